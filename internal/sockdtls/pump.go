package sockdtls

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// deadlineFor 는 상대 타임아웃을 절대 deadline 으로 바꿉니다. NoTimeout 이면 zero 입니다.
func deadlineFor(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// expired 는 zero 가 아닌 deadline 이 지났는지 검사합니다.
func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// pump 는 UDP 데이터그램 하나를 기다려 demux 하고, 드라이버 타이머를 구동합니다.
// deadline 이나 가장 이른 재전송 타이머, Wake 중 먼저 오는 것에서 반환합니다.
func (s *Sock) pump(deadline time.Time) error {
	wait := deadline
	for _, e := range s.table.entries() {
		if d := e.drv.Deadline(); !d.IsZero() && (wait.IsZero() || d.Before(wait)) {
			wait = d
		}
	}

	n, from, err := s.udp.RecvFrom(s.rxbuf, wait)
	switch {
	case err == nil:
		s.demux(s.rxbuf[:n], from)
	case errors.Is(err, udp.ErrTimeout), errors.Is(err, udp.ErrWoken):
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: udp receive: %v", ErrNoLocalAddr, err)
	default:
		return fmt.Errorf("%w: udp receive: %v", ErrInvalidArg, err)
	}

	s.service(time.Now())
	return nil
}

// service 는 만료된 드라이버 타이머를 실행하고 핸드셰이크 결과를 기록한 뒤,
// 애플리케이션이 알지 못하는 실패한 서버 세션을 정리합니다.
func (s *Sock) service(now time.Time) {
	for _, e := range s.table.entries() {
		if expired(e.drv.Deadline(), now) {
			if err := e.drv.Timeout(now); err != nil {
				s.log.Debug("dtls session timer error", logging.Fields{
					"session_id": e.id,
					"error":      err.Error(),
				})
			}
		}
		s.observeHandshake(e)
		if e.role == dtls.RoleServer && !e.visible && e.closed() && !e.hasPlaintext() {
			s.dropEntry(e)
		}
	}
}
