package sockdtls

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// EstablishSession 은 remote 와 클라이언트 핸드셰이크를 수행하고 세션 핸들을 반환합니다.
//
// 이미 established 세션이 있으면 새 핸드셰이크 없이 그 세션을 반환합니다.
// timeout 이 0 이면 아무 상태도 만들지 않고 ErrWouldBlock 을, NoTimeout 이면 끝까지 기다립니다.
// 실패하거나 타임아웃되면 remote 의 미완성 세션은 누가 시작했든 테이블에서 제거됩니다.
// 대기 중에 도착한 다른 세션의 평문은 버리지 않고 다음 Recv 까지 보관됩니다.
func (s *Sock) EstablishSession(remote udp.Endpoint, timeout time.Duration) (Session, error) {
	if err := s.check(); err != nil {
		return Session{}, err
	}
	local, err := s.udp.LocalEndpoint()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrNoLocalAddr, err)
	}
	if err := validateRemote(local, remote); err != nil {
		return Session{}, err
	}
	e, err := s.establish(remote, timeout)
	if err != nil {
		return Session{}, err
	}
	return e.session(), nil
}

func (s *Sock) establish(remote udp.Endpoint, timeout time.Duration) (*entry, error) {
	e := s.table.get(remote)
	if e != nil {
		switch {
		case e.phase() == dtls.PhaseEstablished:
			e.visible = true
			return e, nil
		case e.closed():
			s.dropEntry(e)
			e = nil
		}
	}

	if timeout == 0 {
		return nil, ErrWouldBlock
	}
	if e == nil {
		var err error
		e, err = s.newEntry(dtls.RoleClient, remote)
		if err != nil {
			return nil, err
		}
		s.dialed = true
		s.log.Debug("dtls client handshake started", logging.Fields{
			"session_id": e.id,
			"remote":     remote.String(),
		})
		if err := e.drv.Start(); err != nil {
			s.recordHandshake(e, "failure")
			s.dropEntry(e)
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	}
	// 애플리케이션이 기다리고 있으므로 서버 세션이라도 실패를 조용히 정리하지 않습니다.
	e.visible = true

	deadline := deadlineFor(timeout)
	for {
		if !s.table.contains(e) {
			return nil, handshakeError(e.drv.Err())
		}
		s.observeHandshake(e)
		switch {
		case e.phase() == dtls.PhaseEstablished:
			return e, nil
		case e.closed():
			err := handshakeError(e.drv.Err())
			if !e.hasPlaintext() {
				s.dropEntry(e)
			}
			return nil, err
		}
		if expired(deadline, time.Now()) {
			// 이미 진행 중이던 서버 핸드셰이크에 합류했더라도 미완성 세션은 남기지 않습니다.
			if !e.observed {
				s.recordHandshake(e, "timeout")
			}
			s.dropEntry(e)
			return nil, fmt.Errorf("%w: handshake with %v", ErrTimedOut, remote)
		}
		if err := s.pump(deadline); err != nil {
			return nil, err
		}
	}
}

// handshakeError 는 드라이버 종료 원인을 facade 오류로 변환합니다.
func handshakeError(err error) error {
	switch {
	case err == nil:
		return ErrHandshakeFailed
	case errors.Is(err, dtls.ErrPeerCredentialTooLarge):
		return fmt.Errorf("%w: %v", ErrBufferTooSmall, err)
	case errors.Is(err, dtls.ErrHandshakeTimeout):
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	case errors.Is(err, dtls.ErrPeerClosed):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	default:
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
}
