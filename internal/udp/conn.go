package udp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Conn 은 *net.UDPConn 기반의 Sock 구현입니다.
//
// 수신 시 x/net 의 control message 로 수신 인터페이스 인덱스를 읽어 Endpoint.Netif 에 채웁니다.
// Wake 는 read deadline 을 현재 시각으로 당겨 블로킹 중인 RecvFrom 을 깨웁니다.
type Conn struct {
	pc    *net.UDPConn
	p4    *ipv4.PacketConn
	p6    *ipv6.PacketConn
	local Endpoint

	woken  atomic.Bool
	closed atomic.Bool

	sendStats sockCounters
	recvStats sockCounters
}

var _ Sock = (*Conn)(nil)

// Listen 은 local 에 UDP 소켓을 바인딩합니다.
// 주소가 비어 있으면 dual-stack 으로 모든 주소에서 수신합니다.
func Listen(local Endpoint) (*Conn, error) {
	network := "udp"
	if local.Addr.Is4() {
		network = "udp4"
	}

	var laddr *net.UDPAddr
	if local.Addr.IsValid() {
		laddr = net.UDPAddrFromAddrPort(local.AddrPort())
	} else {
		laddr = &net.UDPAddr{Port: int(local.Port)}
	}

	pc, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %v: %w", local, err)
	}
	return New(pc), nil
}

// New 는 이미 열린 *net.UDPConn 을 감쌉니다. pc 의 소유권은 Conn 으로 넘어옵니다.
func New(pc *net.UDPConn) *Conn {
	c := &Conn{pc: pc}
	if la, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		c.local = EndpointFromAddrPort(la.AddrPort(), 0)
	}

	// control message 는 플랫폼에 따라 지원되지 않을 수 있으므로 실패해도 무시합니다.
	if c.local.Addr.Is4() {
		c.p4 = ipv4.NewPacketConn(pc)
		_ = c.p4.SetControlMessage(ipv4.FlagInterface, true)
	} else {
		c.p6 = ipv6.NewPacketConn(pc)
		_ = c.p6.SetControlMessage(ipv6.FlagInterface, true)
	}
	return c
}

// LocalEndpoint 는 바인딩된 로컬 엔드포인트를 반환합니다.
func (c *Conn) LocalEndpoint() (Endpoint, error) {
	if c.closed.Load() || c.local.Port == 0 {
		return Endpoint{}, ErrNotBound
	}
	return c.local, nil
}

// SendTo 는 b 를 remote 로 전송합니다.
func (c *Conn) SendTo(b []byte, remote Endpoint) (int, error) {
	if c.closed.Load() {
		c.sendStats.fail()
		return 0, fmt.Errorf("%w: %v", ErrSendFailed, net.ErrClosed)
	}

	var (
		n   int
		err error
	)
	dst := net.UDPAddrFromAddrPort(remote.AddrPort())
	switch {
	case remote.Netif != 0 && c.p6 != nil && remote.Addr.Is6() && !remote.Addr.IsLinkLocalUnicast():
		n, err = c.p6.WriteTo(b, &ipv6.ControlMessage{IfIndex: remote.Netif}, dst)
	case remote.Netif != 0 && c.p4 != nil && remote.Addr.Is4():
		n, err = c.p4.WriteTo(b, &ipv4.ControlMessage{IfIndex: remote.Netif}, dst)
	default:
		n, err = c.pc.WriteToUDPAddrPort(b, remote.AddrPort())
	}
	if err != nil {
		c.sendStats.fail()
		if isNoBuffers(err) {
			return n, fmt.Errorf("%w: %v", ErrNoBuffers, err)
		}
		return n, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	c.sendStats.ok(n)
	return n, nil
}

// RecvFrom 은 deadline 까지 데이터그램 하나를 수신합니다.
func (c *Conn) RecvFrom(b []byte, deadline time.Time) (int, Endpoint, error) {
	if c.closed.Load() {
		return 0, Endpoint{}, net.ErrClosed
	}
	if err := c.pc.SetReadDeadline(deadline); err != nil {
		return 0, Endpoint{}, err
	}
	// SetReadDeadline 이후에 플래그를 확인해야 Wake 를 놓치지 않습니다.
	if c.woken.Swap(false) {
		return 0, Endpoint{}, ErrWoken
	}

	n, ifIndex, src, err := c.read(b)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if c.woken.Swap(false) {
				return 0, Endpoint{}, ErrWoken
			}
			return 0, Endpoint{}, ErrTimeout
		}
		c.recvStats.fail()
		return 0, Endpoint{}, err
	}

	ua, ok := src.(*net.UDPAddr)
	if !ok {
		c.recvStats.fail()
		return 0, Endpoint{}, fmt.Errorf("udp: unexpected source address type %T", src)
	}
	c.recvStats.ok(n)
	return n, EndpointFromAddrPort(ua.AddrPort(), ifIndex), nil
}

func (c *Conn) read(b []byte) (int, int, net.Addr, error) {
	switch {
	case c.p4 != nil:
		n, cm, src, err := c.p4.ReadFrom(b)
		if cm != nil {
			return n, cm.IfIndex, src, err
		}
		return n, 0, src, err
	case c.p6 != nil:
		n, cm, src, err := c.p6.ReadFrom(b)
		if cm != nil {
			return n, cm.IfIndex, src, err
		}
		return n, 0, src, err
	default:
		n, src, err := c.pc.ReadFromUDP(b)
		return n, 0, src, err
	}
}

// Wake 는 블로킹 중인 RecvFrom 을 깨웁니다. 어느 goroutine 에서나 호출할 수 있습니다.
func (c *Conn) Wake() {
	c.woken.Store(true)
	_ = c.pc.SetReadDeadline(time.Now())
}

// SendStats 는 송신 통계를 반환합니다.
func (c *Conn) SendStats() SockStats { return c.sendStats.snapshot() }

// RecvStats 는 수신 통계를 반환합니다.
func (c *Conn) RecvStats() SockStats { return c.recvStats.snapshot() }

// Close 는 UDP 소켓을 닫습니다. DTLS 소켓은 이를 호출하지 않으며, 소유자가 호출해야 합니다.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.pc.Close()
}
