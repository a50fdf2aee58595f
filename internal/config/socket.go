package config

import (
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/sockdtls"
)

// SocketConfig 는 DTLS 설정을 sockdtls.Config 로 옮깁니다.
// 0 인 값은 sockdtls 와 드라이버 기본값을 그대로 사용합니다.
func (c DTLSConfig) SocketConfig(logger logging.Logger, log LoggingConfig) sockdtls.Config {
	sc := sockdtls.DefaultConfig()
	if c.MaxSessions > 0 {
		sc.MaxSessions = c.MaxSessions
	}
	if c.SendHandshakeTimeout != 0 {
		sc.SendHandshakeTimeout = c.SendHandshakeTimeout
	}
	sc.HandshakeRate = c.HandshakeRate
	if c.HandshakeBurst > 0 {
		sc.HandshakeBurst = c.HandshakeBurst
	}
	sc.Logger = logger

	if c.HandshakeTimeout > sc.Pion.HandshakeTimeout {
		sc.Pion.HandshakeTimeout = c.HandshakeTimeout
	}
	sc.Pion.FlightInterval = c.FlightInterval
	sc.Pion.MTU = c.MTU
	if c.MaxPeerCredentialSize > 0 {
		sc.Pion.MaxPeerCredentialSize = c.MaxPeerCredentialSize
	}
	sc.Pion.PionTrace = log.PionTrace
	return sc
}
