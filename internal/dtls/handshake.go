package dtls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v3"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// maxPlaintextRecord 는 DTLS 레코드 하나가 담을 수 있는 최대 평문 크기보다 넉넉한 읽기 버퍼입니다.
const maxPlaintextRecord = 64 * 1024

// closeWait 는 로컬 Close 시 세션 goroutine 종료를 기다리는 최대 시간입니다.
const closeWait = 2 * time.Second

// pionSession 은 pion *dtls.Conn 하나를 DriverSession 으로 감쌉니다. (ko)
// pionSession adapts one pion *dtls.Conn to the DriverSession contract. (en)
//
// 핸드셰이크와 평문 수신은 세션 전용 goroutine 에서 진행되고,
// 단계 변화와 평문 도착은 SessionIO.Notify 로 알립니다.
type pionSession struct {
	drv              *PionDriver
	role             Role
	remote           udp.Endpoint
	io               SessionIO
	cfg              *piondtls.Config
	pc               *sessionPacketConn
	log              logging.Logger
	handshakeTimeout time.Duration
	queueLen         int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	phase     Phase
	err       error
	verifyErr error
	sendErr   error
	conn      *piondtls.Conn
	plain     [][]byte
	started   time.Time
	running   bool
}

var _ DriverSession = (*pionSession)(nil)

// Start 는 핸드셰이크를 시작합니다. 클라이언트는 즉시 ClientHello 를 전송합니다.
func (s *pionSession) Start() error {
	s.mu.Lock()
	if s.phase != PhaseFresh {
		s.mu.Unlock()
		if s.phase == PhaseClosed || s.phase == PhaseClosing {
			return ErrClosed
		}
		return nil
	}

	raddr := net.UDPAddrFromAddrPort(s.remote.AddrPort())
	var (
		conn *piondtls.Conn
		err  error
	)
	if s.role == RoleClient {
		conn, err = piondtls.Client(s.pc, raddr, s.cfg)
	} else {
		conn, err = piondtls.Server(s.pc, raddr, s.cfg)
	}
	if err != nil {
		s.phase = PhaseClosed
		s.err = err
		s.mu.Unlock()
		return fmt.Errorf("dtls: start %s session: %w", s.role, err)
	}

	s.conn = conn
	s.phase = PhaseHandshaking
	s.started = time.Now()
	s.running = true
	s.mu.Unlock()

	go s.run(conn)
	return nil
}

// run 은 핸드셰이크를 끝까지 진행한 뒤 평문 수신 루프로 넘어갑니다.
func (s *pionSession) run(conn *piondtls.Conn) {
	defer close(s.done)

	log := s.log.With(logging.Fields{"phase": "dtls_handshake", "side": s.role.String()})

	ctx, cancel := context.WithTimeout(s.ctx, s.handshakeTimeout)
	err := conn.HandshakeContext(ctx)
	ctxErr := ctx.Err()
	cancel()

	if err != nil {
		if s.ctx.Err() != nil {
			// 로컬 Close 로 중단된 경우
			return
		}
		err = s.classifyHandshakeErr(err, ctxErr)
		log.Warn("dtls handshake failed", logging.Fields{
			"error":      err.Error(),
			"elapsed_ms": time.Since(s.started).Milliseconds(),
		})
		s.finish(err)
		_ = conn.Close()
		return
	}

	log.Info("dtls handshake success", logging.Fields{
		"elapsed_ms": time.Since(s.started).Milliseconds(),
	})
	s.mu.Lock()
	if s.phase == PhaseHandshaking {
		s.phase = PhaseEstablished
	}
	s.mu.Unlock()
	s.io.Notify()

	s.readLoop(conn)
}

func (s *pionSession) classifyHandshakeErr(err, ctxErr error) error {
	s.mu.Lock()
	verifyErr := s.verifyErr
	s.mu.Unlock()

	switch {
	case verifyErr != nil:
		return verifyErr
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	default:
		return err
	}
}

// readLoop 는 established 세션의 평문을 큐에 쌓습니다.
func (s *pionSession) readLoop(conn *piondtls.Conn) {
	buf := make([]byte, maxPlaintextRecord)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Debug("dtls session terminated by peer", logging.Fields{
				"error": err.Error(),
			})
			s.finish(fmt.Errorf("%w: %v", ErrPeerClosed, err))
			_ = conn.Close()
			return
		}

		s.mu.Lock()
		if len(s.plain) >= s.queueLen {
			s.mu.Unlock()
			s.log.Warn("plaintext queue full, dropping datagram", logging.Fields{
				"size": n,
			})
			continue
		}
		s.plain = append(s.plain, bytes.Clone(buf[:n]))
		s.mu.Unlock()
		s.io.Notify()
	}
}

func (s *pionSession) finish(err error) {
	s.mu.Lock()
	if s.phase != PhaseClosed {
		s.phase = PhaseClosed
		if s.err == nil {
			s.err = err
		}
	}
	s.mu.Unlock()
	s.io.Notify()
}

func (s *pionSession) serverPSK(psk *credman.PSK, identity []byte, maxSize int) ([]byte, error) {
	if maxSize > 0 && len(identity) > maxSize {
		err := fmt.Errorf("%w: psk identity of %d bytes", ErrPeerCredentialTooLarge, len(identity))
		s.recordVerifyErr(err)
		return nil, err
	}
	if len(psk.ID) > 0 && !bytes.Equal(psk.ID, identity) {
		err := fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
		s.recordVerifyErr(err)
		return nil, err
	}
	return psk.Key, nil
}

func (s *pionSession) recordVerifyErr(err error) {
	s.mu.Lock()
	if s.verifyErr == nil {
		s.verifyErr = err
	}
	s.mu.Unlock()
}

func (s *pionSession) recordSendErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// Feed 는 수신한 암호문 데이터그램을 세션 큐에 넣습니다.
func (s *pionSession) Feed(ciphertext []byte) error {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase == PhaseClosing || phase == PhaseClosed {
		return ErrClosed
	}
	return s.pc.push(ciphertext)
}

func (s *pionSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *pionSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Deadline 은 항상 zero 입니다. 재전송 타이머는 pion 내부에서 동작합니다.
func (s *pionSession) Deadline() time.Time { return time.Time{} }

func (s *pionSession) Timeout(time.Time) error { return nil }

// ReadPlaintext 는 가장 오래된 평문 데이터그램 하나를 꺼냅니다.
func (s *pionSession) ReadPlaintext() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.plain) == 0 {
		return nil, false
	}
	p := s.plain[0]
	s.plain[0] = nil
	s.plain = s.plain[1:]
	return p, true
}

// Encrypt 는 평문을 레코드 하나로 암호화해 SessionIO.Send 로 전송합니다.
func (s *pionSession) Encrypt(plaintext []byte) error {
	s.mu.Lock()
	phase, conn, terminal := s.phase, s.conn, s.err
	s.sendErr = nil
	s.mu.Unlock()

	switch phase {
	case PhaseEstablished:
	case PhaseClosing, PhaseClosed:
		if terminal != nil {
			return terminal
		}
		return ErrClosed
	default:
		return ErrNotEstablished
	}

	if _, err := conn.Write(plaintext); err != nil {
		s.mu.Lock()
		sendErr := s.sendErr
		s.mu.Unlock()
		if sendErr != nil {
			return sendErr
		}
		return fmt.Errorf("dtls: encrypt: %w", err)
	}
	return nil
}

// Close 는 established 세션이면 close_notify 를 보내고 세션 자원을 해제합니다.
// 여러 번 호출해도 안전합니다.
func (s *pionSession) Close() error {
	s.mu.Lock()
	if s.phase == PhaseClosing || (s.phase == PhaseClosed && s.ctx.Err() != nil) {
		s.mu.Unlock()
		return nil
	}
	if s.phase != PhaseClosed {
		s.phase = PhaseClosing
	}
	conn, running := s.conn, s.running
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		// pion 은 핸드셰이크가 끝난 연결에만 close_notify 를 보냅니다.
		_ = conn.Close()
	}
	_ = s.pc.Close()

	if running {
		select {
		case <-s.done:
		case <-time.After(closeWait):
			s.log.Warn("dtls session goroutine did not stop in time", nil)
		}
	}

	s.mu.Lock()
	s.phase = PhaseClosed
	if s.err == nil {
		s.err = ErrClosed
	}
	s.plain = nil
	s.mu.Unlock()

	s.drv.forget(s)
	return nil
}
