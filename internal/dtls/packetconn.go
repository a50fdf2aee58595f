package dtls

import (
	"errors"
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// sessionPacketConn 은 세션 하나를 위한 가상 net.PacketConn 입니다. (ko)
// sessionPacketConn is the per-session virtual net.PacketConn handed to pion. (en)
//
// 읽기는 Feed 가 채우는 packetio.Buffer 에서, 쓰기는 SessionIO.Send 로 나갑니다.
// Close 는 버퍼만 닫으며 실제 UDP 소켓에는 영향을 주지 않습니다.
type sessionPacketConn struct {
	buf    *packetio.Buffer
	remote net.Addr
	send   func([]byte) error
	onErr  func(error)
}

var _ net.PacketConn = (*sessionPacketConn)(nil)

func newSessionPacketConn(remote net.Addr, limit int, send func([]byte) error, onErr func(error)) *sessionPacketConn {
	buf := packetio.NewBuffer()
	buf.SetLimitSize(limit)
	return &sessionPacketConn{
		buf:    buf,
		remote: remote,
		send:   send,
		onErr:  onErr,
	}
}

// push 는 수신한 암호문 데이터그램을 큐에 넣습니다.
func (c *sessionPacketConn) push(b []byte) error {
	if _, err := c.buf.Write(b); err != nil {
		if errors.Is(err, packetio.ErrFull) {
			return ErrQueueFull
		}
		return ErrClosed
	}
	return nil
}

func (c *sessionPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.buf.Read(p)
	return n, c.remote, err
}

func (c *sessionPacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if err := c.send(p); err != nil {
		if c.onErr != nil {
			c.onErr(err)
		}
		return 0, err
	}
	return len(p), nil
}

func (c *sessionPacketConn) Close() error {
	return c.buf.Close()
}

func (c *sessionPacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{}
}

func (c *sessionPacketConn) SetDeadline(t time.Time) error {
	return c.buf.SetReadDeadline(t)
}

func (c *sessionPacketConn) SetReadDeadline(t time.Time) error {
	return c.buf.SetReadDeadline(t)
}

func (c *sessionPacketConn) SetWriteDeadline(time.Time) error {
	return nil
}
