package udp

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func listenLoopback(t *testing.T) *Conn {
	t.Helper()
	c, err := Listen(Endpoint{Addr: netip.MustParseAddr("127.0.0.1")})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		want   Endpoint
		family Family
	}{
		{"127.0.0.1:20220", Endpoint{Addr: netip.MustParseAddr("127.0.0.1"), Port: 20220}, FamilyINET},
		{"[::1]:5684", Endpoint{Addr: netip.MustParseAddr("::1"), Port: 5684}, FamilyINET6},
		{"[::ffff:10.0.0.1]:1", Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 1}, FamilyINET},
		{"[fe80::1%7]:20220", Endpoint{Addr: netip.MustParseAddr("fe80::1"), Port: 20220, Netif: 7}, FamilyINET6},
	}
	for _, tt := range tests {
		got, err := ParseEndpoint(tt.in)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got.Family() != tt.family {
			t.Errorf("ParseEndpoint(%q).Family() = %v, want %v", tt.in, got.Family(), tt.family)
		}
	}

	if _, err := ParseEndpoint("not-an-endpoint"); err == nil {
		t.Fatalf("expected error for malformed endpoint")
	}
}

func TestEndpointKey(t *testing.T) {
	global := Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), Port: 1, Netif: 3}
	if k := global.Key(); k.Netif != 0 {
		t.Errorf("global key netif = %d, want 0", k.Netif)
	}

	linkLocal := Endpoint{Addr: netip.MustParseAddr("fe80::1"), Port: 1, Netif: 3}
	if k := linkLocal.Key(); k.Netif != 3 {
		t.Errorf("link-local key netif = %d, want 3", k.Netif)
	}

	mapped := Endpoint{Addr: netip.MustParseAddr("::ffff:192.0.2.1"), Port: 9}
	want := Endpoint{Addr: netip.MustParseAddr("192.0.2.1"), Port: 9}
	if k := mapped.Key(); k != want {
		t.Errorf("mapped key = %+v, want %+v", k, want)
	}
}

func TestEndpointAddrPortZone(t *testing.T) {
	e := Endpoint{Addr: netip.MustParseAddr("fe80::1"), Port: 20220, Netif: 2}
	if got := e.AddrPort().Addr().Zone(); got != "2" {
		t.Fatalf("zone = %q, want %q", got, "2")
	}
	e = Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), Port: 20220, Netif: 2}
	if got := e.AddrPort().Addr().Zone(); got != "" {
		t.Fatalf("zone = %q, want empty", got)
	}
}

func TestConnSendRecv(t *testing.T) {
	a := listenLoopback(t)
	b := listenLoopback(t)

	bEP, err := b.LocalEndpoint()
	if err != nil {
		t.Fatalf("LocalEndpoint: %v", err)
	}
	if bEP.Port == 0 || bEP.Family() != FamilyINET {
		t.Fatalf("unexpected local endpoint %v", bEP)
	}

	if _, err := a.SendTo([]byte("ping"), bEP); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 64)
	n, src, err := b.RecvFrom(buf, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("payload = %q, want %q", buf[:n], "ping")
	}
	aEP, _ := a.LocalEndpoint()
	if src.Key() != aEP.Key() {
		t.Fatalf("source = %v, want %v", src, aEP)
	}

	if s := a.SendStats(); s.Packets != 1 || s.Bytes != 4 {
		t.Errorf("send stats = %+v", s)
	}
	if s := b.RecvStats(); s.Packets != 1 || s.Bytes != 4 {
		t.Errorf("recv stats = %+v", s)
	}
}

func TestConnRecvTimeout(t *testing.T) {
	c := listenLoopback(t)
	buf := make([]byte, 16)
	_, _, err := c.RecvFrom(buf, time.Now().Add(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("RecvFrom err = %v, want ErrTimeout", err)
	}
}

func TestConnWakeBeforeRecv(t *testing.T) {
	c := listenLoopback(t)
	c.Wake()

	buf := make([]byte, 16)
	_, _, err := c.RecvFrom(buf, time.Now().Add(5*time.Second))
	if !errors.Is(err, ErrWoken) {
		t.Fatalf("RecvFrom err = %v, want ErrWoken", err)
	}

	// 플래그는 한 번만 소비되어야 합니다.
	_, _, err = c.RecvFrom(buf, time.Now().Add(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second RecvFrom err = %v, want ErrTimeout", err)
	}
}

func TestConnWakeInterruptsBlockingRecv(t *testing.T) {
	c := listenLoopback(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		c.Wake()
	}()

	start := time.Now()
	buf := make([]byte, 16)
	_, _, err := c.RecvFrom(buf, time.Time{})
	if !errors.Is(err, ErrWoken) {
		t.Fatalf("RecvFrom err = %v, want ErrWoken", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("wake took too long")
	}
}

func TestConnClosed(t *testing.T) {
	c, err := Listen(Endpoint{Addr: netip.MustParseAddr("127.0.0.1")})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := c.LocalEndpoint(); !errors.Is(err, ErrNotBound) {
		t.Fatalf("LocalEndpoint err = %v, want ErrNotBound", err)
	}
	if _, err := c.SendTo([]byte("x"), Endpoint{Addr: netip.MustParseAddr("127.0.0.1"), Port: 9}); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("SendTo err = %v, want ErrSendFailed", err)
	}
}
