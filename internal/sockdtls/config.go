package sockdtls

import (
	"time"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
)

// Config 는 DTLS 소켓 하나의 동작을 조정합니다. zero 값 필드는 DefaultConfig 값으로 채워집니다.
type Config struct {
	// MaxSessions 는 세션 테이블 용량입니다.
	MaxSessions int
	// SendHandshakeTimeout 은 세션이 없는 원격으로 Send 할 때 암묵적 핸드셰이크의 상한입니다.
	// NoTimeout 이면 무제한입니다.
	SendHandshakeTimeout time.Duration
	// MaxDatagramSize 는 UDP 수신 버퍼 크기입니다.
	MaxDatagramSize int
	// HandshakeRate 는 초당 새 서버 핸드셰이크 허용 수입니다. 0 이면 제한하지 않습니다.
	HandshakeRate  float64
	HandshakeBurst int

	// Registry 가 nil 이면 credman.Default() 를 사용합니다.
	Registry *credman.Registry
	Logger   logging.Logger

	// Pion 은 기본 드라이버 팩토리가 사용하는 설정입니다. Version 은 Method 로 덮어씁니다.
	Pion dtls.PionConfig
	// NewDriver 가 nil 이면 pion 드라이버를 생성합니다.
	NewDriver func(method Method) (dtls.Driver, error)
}

const (
	defaultMaxSessions          = 16
	defaultSendHandshakeTimeout = 5 * time.Second
	defaultMaxDatagramSize      = 64 * 1024
	defaultHandshakeBurst       = 4
)

// DefaultConfig 는 기본 설정을 반환합니다.
func DefaultConfig() Config {
	return Config{
		MaxSessions:          defaultMaxSessions,
		SendHandshakeTimeout: defaultSendHandshakeTimeout,
		MaxDatagramSize:      defaultMaxDatagramSize,
		HandshakeBurst:       defaultHandshakeBurst,
		Pion:                 dtls.DefaultPionConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.SendHandshakeTimeout == 0 {
		c.SendHandshakeTimeout = defaultSendHandshakeTimeout
	}
	if c.MaxDatagramSize <= 0 {
		c.MaxDatagramSize = defaultMaxDatagramSize
	}
	if c.HandshakeBurst <= 0 {
		c.HandshakeBurst = defaultHandshakeBurst
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.NewDriver == nil {
		pc := c.Pion
		if pc.Logger == nil {
			pc.Logger = c.Logger
		}
		c.NewDriver = func(m Method) (dtls.Driver, error) {
			pc.Version = uint16(m)
			d, err := dtls.NewPionDriver(pc)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	return c
}
