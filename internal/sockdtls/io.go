package sockdtls

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/observability"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// Send 는 data 를 DTLS 레코드 하나로 암호화해 sess 의 원격으로 보냅니다.
//
// 세션이 없으면 Config.SendHandshakeTimeout 안에서 암묵적으로 핸드셰이크를 수행하며,
// 실패하면 그 오류와 0 을 반환합니다. 빈 data 는 인자 검사만 하고 0, nil 을 반환합니다.
func (s *Sock) Send(sess Session, data []byte) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	local, err := s.udp.LocalEndpoint()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAddrInUse, err)
	}
	if err := validateRemote(local, sess.Remote); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	e := s.table.get(sess.Remote)
	switch {
	case e == nil:
		if e, err = s.establish(sess.Remote, s.cfg.SendHandshakeTimeout); err != nil {
			return 0, err
		}
	case e.closed():
		s.dropEntry(e)
		return 0, fmt.Errorf("%w: %v", ErrPeerClosed, sess.Remote)
	case e.phase() != dtls.PhaseEstablished:
		return 0, fmt.Errorf("%w: handshake with %v in progress", ErrWouldBlock, sess.Remote)
	}
	e.visible = true

	if err := e.drv.Encrypt(data); err != nil {
		switch {
		case errors.Is(err, udp.ErrNoBuffers):
			return 0, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		case errors.Is(err, udp.ErrSendFailed):
			return 0, fmt.Errorf("%w: %v", ErrHostUnreachable, err)
		case e.closed():
			s.dropEntry(e)
			return 0, fmt.Errorf("%w: %v", ErrPeerClosed, err)
		default:
			return 0, fmt.Errorf("%w: %v", ErrHostUnreachable, err)
		}
	}
	observability.PlaintextBytesTotal.WithLabelValues("tx").Add(float64(len(data)))
	return len(data), nil
}

// Recv 는 timeout 동안 어느 세션에서든 복호화된 데이터그램 하나를 기다려 buf 에 복사합니다.
//
// timeout 이 0 이면 UDP 를 읽지 않고 이미 복호화된 평문만 확인합니다.
// 이 호출 중에 시작된 서버 핸드셰이크는 평문을 반환하기 전에 끝까지 진행됩니다.
// 데이터그램이 buf 보다 크면 평문을 버리고 세션과 함께 ErrBufferTooSmall 을 반환합니다.
func (s *Sock) Recv(buf []byte, timeout time.Duration) (Session, int, error) {
	if err := s.check(); err != nil {
		return Session{}, 0, err
	}
	if _, err := s.udp.LocalEndpoint(); err != nil {
		return Session{}, 0, fmt.Errorf("%w: %v", ErrNoLocalAddr, err)
	}

	s.recvEpoch++
	epoch := s.recvEpoch
	deadline := deadlineFor(timeout)
	for {
		if !s.serverHandshakePending(epoch) {
			if sess, n, ok, err := s.drain(buf); ok {
				return sess, n, err
			}
		}
		if timeout == 0 {
			return Session{}, 0, ErrWouldBlock
		}
		if expired(deadline, time.Now()) {
			if sess, n, ok, err := s.drain(buf); ok {
				return sess, n, err
			}
			return Session{}, 0, ErrTimedOut
		}
		if err := s.pump(deadline); err != nil {
			return Session{}, 0, err
		}
	}
}

// serverHandshakePending 은 epoch 번째 Recv 중에 시작되어 아직 끝나지 않은 서버 핸드셰이크가 있는지 검사합니다.
func (s *Sock) serverHandshakePending(epoch uint64) bool {
	for _, e := range s.table.entries() {
		if e.role != dtls.RoleServer || e.epoch != epoch {
			continue
		}
		if p := e.phase(); p == dtls.PhaseFresh || p == dtls.PhaseHandshaking {
			return true
		}
	}
	return false
}

// drain 은 세션들을 round-robin 으로 돌며 평문 하나를 전달하고,
// 없으면 애플리케이션이 아는 닫힌 세션 하나를 ErrPeerClosed 로 보고합니다.
func (s *Sock) drain(buf []byte) (Session, int, bool, error) {
	entries := s.table.entries()
	n := len(entries)
	for i := 0; i < n; i++ {
		idx := (s.rr + i) % n
		e := entries[idx]
		p, ok := e.peek()
		if !ok {
			continue
		}
		s.rr = idx + 1
		e.visible = true
		e.take()
		if len(p) > len(buf) {
			s.log.Debug("plaintext datagram larger than receive buffer", logging.Fields{
				"session_id": e.id,
				"size":       len(p),
				"buffer":     len(buf),
			})
			return e.session(), 0, true, fmt.Errorf("%w: datagram of %d bytes, buffer of %d", ErrBufferTooSmall, len(p), len(buf))
		}
		copy(buf, p)
		observability.PlaintextBytesTotal.WithLabelValues("rx").Add(float64(len(p)))
		return e.session(), len(p), true, nil
	}

	for _, e := range entries {
		if !e.visible || !e.closed() || e.hasPlaintext() {
			continue
		}
		err := e.drv.Err()
		s.log.Info("dtls session closed by peer", logging.Fields{
			"session_id": e.id,
			"remote":     e.remote.String(),
		})
		s.dropEntry(e)
		if err == nil {
			return e.session(), 0, true, ErrPeerClosed
		}
		return e.session(), 0, true, fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return Session{}, 0, false, nil
}

// CloseSession 은 close_notify 를 최선으로 보내고 세션을 테이블에서 제거합니다.
// 이미 닫혔거나 없는 세션이면 아무 일도 하지 않습니다.
func (s *Sock) CloseSession(sess Session) {
	if s.check() != nil {
		return
	}
	e := s.table.get(sess.Remote)
	if e == nil {
		return
	}
	s.log.Debug("dtls session closed locally", logging.Fields{
		"session_id": e.id,
		"remote":     e.remote.String(),
	})
	s.dropEntry(e)
}

// Sessions 는 세션 테이블의 스냅샷을 삽입 순서대로 반환합니다.
func (s *Sock) Sessions() []SessionInfo {
	if s.check() != nil {
		return nil
	}
	entries := s.table.entries()
	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, SessionInfo{
			ID:      e.id,
			Remote:  e.remote,
			Phase:   e.phase(),
			Role:    e.role,
			Tag:     s.tag,
			Created: e.created,
		})
	}
	return out
}
