package udp

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrNotBound 는 소켓에 바인딩된 로컬 엔드포인트가 없을 때 반환됩니다.
	ErrNotBound = errors.New("udp: socket has no bound local endpoint")
	// ErrTimeout 은 RecvFrom 의 deadline 이 지났을 때 반환됩니다.
	ErrTimeout = errors.New("udp: receive deadline exceeded")
	// ErrWoken 은 대기 중인 RecvFrom 이 Wake 로 깨어났을 때 반환됩니다.
	ErrWoken = errors.New("udp: receive interrupted by wake-up")
	// ErrSendFailed 는 UDP 계층이 데이터그램 송신을 거부했을 때 반환됩니다.
	ErrSendFailed = errors.New("udp: send failed")
	// ErrNoBuffers 는 커널 송신 버퍼가 부족할 때 반환됩니다.
	ErrNoBuffers = errors.New("udp: no buffer space available")
)

// Sock 은 DTLS 소켓이 빌려 쓰는 UDP 엔드포인트 계약입니다.
//
// DTLS 소켓은 Sock 을 소유하지 않으므로 Close 는 이 인터페이스에 포함되지 않습니다.
// SendTo 와 Wake 는 여러 goroutine 에서 동시에 호출될 수 있어야 합니다.
type Sock interface {
	// LocalEndpoint 는 바인딩된 로컬 엔드포인트를 반환합니다. 없으면 ErrNotBound.
	LocalEndpoint() (Endpoint, error)

	// SendTo 는 b 를 하나의 데이터그램으로 remote 에 보냅니다.
	SendTo(b []byte, remote Endpoint) (int, error)

	// RecvFrom 은 deadline 까지 데이터그램 하나를 기다립니다. zero deadline 은 무제한입니다.
	// deadline 이 지나면 ErrTimeout, Wake 로 깨어나면 ErrWoken 을 반환합니다.
	RecvFrom(b []byte, deadline time.Time) (int, Endpoint, error)

	// Wake 는 진행 중이거나 다음에 호출될 RecvFrom 을 한 번 깨웁니다.
	Wake()
}

// SockStats 는 한 방향(송신 또는 수신)의 누적 통계입니다.
type SockStats struct {
	Errors  uint64
	Packets uint64
	Bytes   uint64
}

type sockCounters struct {
	errors  atomic.Uint64
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (c *sockCounters) ok(n int) {
	c.packets.Add(1)
	c.bytes.Add(uint64(n))
}

func (c *sockCounters) fail() {
	c.errors.Add(1)
}

func (c *sockCounters) snapshot() SockStats {
	return SockStats{
		Errors:  c.errors.Load(),
		Packets: c.packets.Load(),
		Bytes:   c.bytes.Load(),
	}
}
