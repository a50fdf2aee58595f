package sockdtls

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/observability"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// Session 은 원격 엔드포인트 하나와의 DTLS 세션을 가리키는 핸들입니다.
// 세션 상태는 소켓의 세션 테이블이 소유하며, 핸들은 원격 엔드포인트만 기억합니다.
type Session struct {
	Remote udp.Endpoint
}

func (s Session) String() string { return s.Remote.String() }

// SessionInfo 는 Sessions 가 반환하는 세션 테이블 스냅샷 한 줄입니다.
type SessionInfo struct {
	ID      string
	Remote  udp.Endpoint
	Phase   dtls.Phase
	Role    dtls.Role
	Tag     credman.Tag
	Created time.Time
}

// entry 는 세션 테이블의 한 슬롯입니다.
type entry struct {
	id      string
	remote  udp.Endpoint
	key     udp.Endpoint
	role    dtls.Role
	drv     dtls.DriverSession
	created time.Time

	// visible 은 애플리케이션이 이 세션의 존재를 알게 되었는지 여부입니다.
	// 애플리케이션이 모르는 서버 세션은 실패 시 조용히 정리됩니다.
	visible bool
	// epoch 는 이 서버 세션을 만든 Recv 호출 번호입니다.
	epoch uint64

	observed    bool
	established bool
	// held 는 드라이버에서 꺼냈지만 아직 전달하지 못한 평문입니다.
	held []byte
}

func (e *entry) session() Session { return Session{Remote: e.remote} }

func (e *entry) phase() dtls.Phase {
	p := e.drv.Phase()
	if p == dtls.PhaseEstablished {
		e.established = true
	}
	return p
}

// wasEstablished 는 세션이 한 번이라도 established 단계에 도달했는지 알려 줍니다.
// 관찰하기 전에 피어가 닫았더라도 드라이버 오류로 판별합니다.
func (e *entry) wasEstablished() bool {
	return e.established || errors.Is(e.drv.Err(), dtls.ErrPeerClosed)
}

func (e *entry) closed() bool {
	p := e.phase()
	return p == dtls.PhaseClosing || p == dtls.PhaseClosed
}

// peek 은 다음 평문 데이터그램을 꺼내지 않고 확인합니다.
func (e *entry) peek() ([]byte, bool) {
	if e.held == nil {
		p, ok := e.drv.ReadPlaintext()
		if !ok {
			return nil, false
		}
		if p == nil {
			p = []byte{}
		}
		e.held = p
	}
	return e.held, true
}

func (e *entry) take() []byte {
	p := e.held
	e.held = nil
	return p
}

func (e *entry) hasPlaintext() bool {
	_, ok := e.peek()
	return ok
}

// table 은 정규화된 원격 엔드포인트로 색인되는 고정 용량 세션 테이블입니다.
type table struct {
	max   int
	byKey map[udp.Endpoint]*entry
	order []*entry
}

func newTable(max int) *table {
	return &table{
		max:   max,
		byKey: make(map[udp.Endpoint]*entry, max),
	}
}

func (t *table) get(ep udp.Endpoint) *entry {
	return t.byKey[ep.Key()]
}

func (t *table) insert(e *entry) error {
	if _, ok := t.byKey[e.key]; ok {
		return fmt.Errorf("%w: duplicate session for %v", ErrInvalidArg, e.remote)
	}
	if t.full() {
		return ErrOutOfMemory
	}
	t.byKey[e.key] = e
	t.order = append(t.order, e)
	return nil
}

func (t *table) remove(e *entry) bool {
	if cur, ok := t.byKey[e.key]; !ok || cur != e {
		return false
	}
	delete(t.byKey, e.key)
	for i, o := range t.order {
		if o == e {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *table) contains(e *entry) bool {
	return t.byKey[e.key] == e
}

// entries 는 삽입 순서대로 복사본을 반환합니다.
func (t *table) entries() []*entry {
	out := make([]*entry, len(t.order))
	copy(out, t.order)
	return out
}

func (t *table) full() bool { return len(t.byKey) >= t.max }

func (t *table) len() int { return len(t.byKey) }

// newEntry 는 remote 와의 세션 슬롯을 만들고 드라이버 세션을 할당합니다. Start 는 호출하지 않습니다.
func (s *Sock) newEntry(role dtls.Role, remote udp.Endpoint) (*entry, error) {
	if s.table.full() {
		s.reapClosed()
	}
	if s.table.full() {
		return nil, fmt.Errorf("%w: session table full (%d)", ErrOutOfMemory, s.table.max)
	}

	creds, err := s.reg.Acquire(s.tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}

	io := dtls.SessionIO{
		Send: func(b []byte) error {
			_, err := s.udp.SendTo(b, remote)
			return err
		},
		Notify: s.notify,
	}
	ds, err := s.drv.NewSession(role, remote, creds, io)
	if err != nil {
		s.reg.Release(s.tag)
		if errors.Is(err, dtls.ErrNoCredentials) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	e := &entry{
		id:      uuid.NewString(),
		remote:  remote,
		key:     remote.Key(),
		role:    role,
		drv:     ds,
		created: time.Now(),
	}
	if err := s.table.insert(e); err != nil {
		_ = ds.Close()
		s.reg.Release(s.tag)
		return nil, err
	}
	observability.SessionsActive.Inc()
	s.log.Debug("dtls session allocated", logging.Fields{
		"session_id": e.id,
		"remote":     remote.String(),
		"side":       role.String(),
	})
	return e, nil
}

// dropEntry 는 세션을 테이블에서 제거하고 드라이버 자원과 tag 참조를 해제합니다.
// 이미 제거된 슬롯이면 아무 일도 하지 않습니다.
func (s *Sock) dropEntry(e *entry) {
	if !s.table.remove(e) {
		return
	}
	if err := e.drv.Close(); err != nil {
		s.log.Debug("dtls session close error", logging.Fields{
			"session_id": e.id,
			"error":      err.Error(),
		})
	}
	s.reg.Release(s.tag)
	observability.SessionsActive.Dec()
	s.log.Debug("dtls session released", logging.Fields{
		"session_id": e.id,
		"remote":     e.remote.String(),
	})
}

// reapClosed 는 애플리케이션에 보고할 것이 남지 않은 닫힌 세션을 정리합니다.
func (s *Sock) reapClosed() {
	for _, e := range s.table.entries() {
		if e.closed() && !e.visible && !e.hasPlaintext() {
			s.dropEntry(e)
		}
	}
}

// observeHandshake 는 핸드셰이크 종료를 한 번만 메트릭/로그에 기록합니다.
func (s *Sock) observeHandshake(e *entry) {
	if e.observed {
		return
	}
	var result string
	switch e.phase() {
	case dtls.PhaseEstablished:
		result = "success"
	case dtls.PhaseClosing, dtls.PhaseClosed:
		if errors.Is(e.drv.Err(), dtls.ErrHandshakeTimeout) {
			result = "timeout"
		} else {
			result = "failure"
		}
		if e.wasEstablished() {
			// established 이후의 종료는 핸드셰이크 결과가 아닙니다.
			e.observed = true
			return
		}
	default:
		return
	}
	s.recordHandshake(e, result)
}

func (s *Sock) recordHandshake(e *entry, result string) {
	e.observed = true
	role := e.role.String()
	elapsed := time.Since(e.created)
	observability.HandshakesTotal.WithLabelValues(role, result).Inc()
	fields := logging.Fields{
		"session_id": e.id,
		"remote":     e.remote.String(),
		"side":       role,
		"result":     result,
		"elapsed_ms": elapsed.Milliseconds(),
		"phase":      "dtls_handshake",
	}
	if result == "success" {
		observability.HandshakeDurationSeconds.WithLabelValues(role).Observe(elapsed.Seconds())
		s.log.Info("dtls session established", fields)
		return
	}
	if err := e.drv.Err(); err != nil {
		fields["error"] = err.Error()
	}
	s.log.Warn("dtls session handshake did not complete", fields)
}
