package sockdtls

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"

	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/observability"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

const (
	recordTypeHandshake  = 22
	handshakeClientHello = 1
	dtlsVersionMajor     = 0xfe
	recordSequenceNumLen = 6
)

// DatagramsDroppedTotal 의 reason 라벨 값
const (
	dropUnknownPeer    = "unknown_peer"
	dropNotClientHello = "not_client_hello"
	dropRateLimited    = "rate_limited"
	dropTableFull      = "table_full"
	dropDriverRejected = "driver_rejected"
	dropClosedSession  = "closed_session"
)

// isClientHello 는 데이터그램의 첫 레코드가 epoch 0 의 ClientHello 핸드셰이크 레코드인지 검사합니다.
//
//	ContentType(1) | Version(2) | Epoch(2) | SequenceNumber(6) | Length(2) | Fragment
//	Fragment[0] = HandshakeType
func isClientHello(b []byte) bool {
	s := cryptobyte.String(b)
	var (
		contentType uint8
		version     uint16
		epoch       uint16
		fragment    cryptobyte.String
		hsType      uint8
	)
	if !s.ReadUint8(&contentType) || contentType != recordTypeHandshake {
		return false
	}
	if !s.ReadUint16(&version) || version>>8 != dtlsVersionMajor {
		return false
	}
	if !s.ReadUint16(&epoch) || epoch != 0 {
		return false
	}
	if !s.Skip(recordSequenceNumLen) {
		return false
	}
	if !s.ReadUint16LengthPrefixed(&fragment) {
		return false
	}
	return fragment.ReadUint8(&hsType) && hsType == handshakeClientHello
}

func dropDatagram(reason string) {
	observability.DatagramsDroppedTotal.WithLabelValues(reason).Inc()
}

// demux 는 수신한 암호문 데이터그램을 원격 엔드포인트의 세션으로 보냅니다.
// 세션이 없고 소켓이 서버 모드이면 ClientHello 에 한해 새 서버 세션을 만듭니다.
func (s *Sock) demux(b []byte, from udp.Endpoint) {
	if e := s.table.get(from); e != nil {
		if !e.closed() {
			if err := e.drv.Feed(b); err != nil {
				dropDatagram(dropDriverRejected)
				s.log.Debug("dtls session rejected datagram", logging.Fields{
					"session_id": e.id,
					"remote":     from.String(),
					"error":      err.Error(),
				})
			}
			return
		}
		if e.visible || e.hasPlaintext() {
			// 애플리케이션에 종료를 보고할 때까지 슬롯을 유지합니다.
			dropDatagram(dropClosedSession)
			return
		}
		s.dropEntry(e)
	}

	if !s.listening {
		dropDatagram(dropUnknownPeer)
		return
	}
	if !isClientHello(b) {
		dropDatagram(dropNotClientHello)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		dropDatagram(dropRateLimited)
		s.log.Debug("dtls handshake rate limited", logging.Fields{"remote": from.String()})
		return
	}

	e, err := s.newEntry(dtls.RoleServer, from)
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			dropDatagram(dropTableFull)
		} else {
			dropDatagram(dropDriverRejected)
		}
		s.log.Warn("dtls server session not created", logging.Fields{
			"remote": from.String(),
			"error":  err.Error(),
		})
		return
	}
	e.epoch = s.recvEpoch
	if err := e.drv.Start(); err != nil {
		dropDatagram(dropDriverRejected)
		s.log.Warn("dtls server session failed to start", logging.Fields{
			"session_id": e.id,
			"error":      err.Error(),
		})
		s.dropEntry(e)
		return
	}
	if err := e.drv.Feed(b); err != nil {
		dropDatagram(dropDriverRejected)
		s.dropEntry(e)
	}
}
