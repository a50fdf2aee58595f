package sockdtls

import (
	"bytes"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// memNet 은 테스트용 손실 없는 메모리 UDP 네트워크입니다.
// 목적지가 없는 데이터그램은 조용히 버려집니다.
type memNet struct {
	mu    sync.Mutex
	socks map[udp.Endpoint]*memSock
}

func newMemNet() *memNet {
	return &memNet{socks: make(map[udp.Endpoint]*memSock)}
}

type datagram struct {
	data []byte
	from udp.Endpoint
}

type memSock struct {
	net   *memNet
	local udp.Endpoint
	inbox chan datagram
	wake  chan struct{}

	unbound   atomic.Bool
	sent      atomic.Int64
	recvCalls atomic.Int64

	mu       sync.Mutex
	failSend error
	failRecv error
}

var _ udp.Sock = (*memSock)(nil)

func (n *memNet) bind(addr string) *memSock {
	ep := udp.EndpointFromAddrPort(netip.MustParseAddrPort(addr), 0)
	s := &memSock{
		net:   n,
		local: ep,
		inbox: make(chan datagram, 256),
		wake:  make(chan struct{}, 1),
	}
	n.mu.Lock()
	n.socks[ep.Key()] = s
	n.mu.Unlock()
	return s
}

func (n *memNet) lookup(ep udp.Endpoint) *memSock {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.socks[ep.Key()]
}

func (s *memSock) setFailSend(err error) {
	s.mu.Lock()
	s.failSend = err
	s.mu.Unlock()
}

func (s *memSock) setFailRecv(err error) {
	s.mu.Lock()
	s.failRecv = err
	s.mu.Unlock()
}

// inject 는 from 에서 온 것처럼 데이터그램을 s 에 넣습니다.
func (s *memSock) inject(b []byte, from udp.Endpoint) {
	s.inbox <- datagram{data: bytes.Clone(b), from: from}
}

func (s *memSock) LocalEndpoint() (udp.Endpoint, error) {
	if s.unbound.Load() {
		return udp.Endpoint{}, udp.ErrNotBound
	}
	return s.local, nil
}

func (s *memSock) SendTo(b []byte, remote udp.Endpoint) (int, error) {
	s.mu.Lock()
	failSend := s.failSend
	s.mu.Unlock()
	if failSend != nil {
		return 0, failSend
	}
	s.sent.Add(1)
	dst := s.net.lookup(remote)
	if dst == nil {
		return len(b), nil
	}
	select {
	case dst.inbox <- datagram{data: bytes.Clone(b), from: s.local}:
	default:
	}
	return len(b), nil
}

func (s *memSock) RecvFrom(b []byte, deadline time.Time) (int, udp.Endpoint, error) {
	s.recvCalls.Add(1)
	s.mu.Lock()
	failRecv := s.failRecv
	s.mu.Unlock()
	if failRecv != nil {
		return 0, udp.Endpoint{}, failRecv
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			select {
			case dg := <-s.inbox:
				return copy(b, dg.data), dg.from, nil
			default:
				return 0, udp.Endpoint{}, udp.ErrTimeout
			}
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case dg := <-s.inbox:
		return copy(b, dg.data), dg.from, nil
	case <-s.wake:
		return 0, udp.Endpoint{}, udp.ErrWoken
	case <-timeout:
		return 0, udp.Endpoint{}, udp.ErrTimeout
	}
}

func (s *memSock) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
