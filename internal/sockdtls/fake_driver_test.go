package sockdtls

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// fakeDriver 는 DTLS 레코드 헤더 모양만 흉내 내는 동기식 드라이버입니다.
//
//	client → ClientHello(22, hs=1, PSK 키)
//	server → ServerHello(22, hs=2, 인증서 바이트) 또는 alert(21)
//	client → Finished(22, hs=20)          client 는 여기서 established
//	server 는 Finished 를 받으면 established
//
// 애플리케이션 데이터는 type 23, close_notify 는 type 21, type 0xff 는 복호화 실패로 취급합니다.
const (
	fakeTypeAlert     = 21
	fakeTypeHandshake = 22
	fakeTypeAppData   = 23
	fakeTypeGarbage   = 0xff

	fakeHelloClient = 1
	fakeHelloServer = 2
	fakeFinished    = 20

	fakeRetransmit = 30 * time.Millisecond
)

var (
	errFakeAlert  = errors.New("fake: received handshake failure alert")
	errFakeBadMAC = errors.New("fake: bad record mac")
)

func fakeRecord(ct byte, epoch uint16, frag []byte) []byte {
	b := make([]byte, 13+len(frag))
	b[0] = ct
	b[1], b[2] = 0xfe, 0xfd
	binary.BigEndian.PutUint16(b[3:5], epoch)
	binary.BigEndian.PutUint16(b[11:13], uint16(len(frag)))
	copy(b[13:], frag)
	return b
}

func parseFakeRecord(b []byte) (byte, []byte, bool) {
	if len(b) < 13 {
		return 0, nil, false
	}
	l := int(binary.BigEndian.Uint16(b[11:13]))
	if len(b) < 13+l {
		return 0, nil, false
	}
	return b[0], b[13 : 13+l], true
}

func fakeClientHello(key []byte) []byte {
	return fakeRecord(fakeTypeHandshake, 0, append([]byte{fakeHelloClient}, key...))
}

type fakeDriver struct {
	mu sync.Mutex
	// certSize 는 서버가 ServerHello 에 싣는 인증서 바이트 수입니다.
	certSize int
	// maxPeer 는 클라이언트가 받아들이는 피어 인증서 최대 크기입니다. 0 이면 무제한.
	maxPeer int
	newErr  error

	sessions []*fakeSession
	closed   bool
}

func (d *fakeDriver) NewSession(role dtls.Role, remote udp.Endpoint, creds []credman.Credential, io dtls.SessionIO) (dtls.DriverSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dtls.ErrClosed
	}
	if d.newErr != nil {
		return nil, d.newErr
	}
	var key []byte
	for _, c := range creds {
		if p, ok := c.PSK(); ok {
			key = p.Key
			break
		}
	}
	if key == nil {
		return nil, dtls.ErrNoCredentials
	}
	s := &fakeSession{drv: d, role: role, remote: remote, key: key, io: io}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDriver) all() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.sessions...)
}

type fakeSession struct {
	drv    *fakeDriver
	role   dtls.Role
	remote udp.Endpoint
	key    []byte
	io     dtls.SessionIO

	mu            sync.Mutex
	phase         dtls.Phase
	err           error
	plain         [][]byte
	deadline      time.Time
	retransmits   int
	closeNotifies int
}

var _ dtls.DriverSession = (*fakeSession)(nil)

func (s *fakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != dtls.PhaseFresh {
		return nil
	}
	s.phase = dtls.PhaseHandshaking
	if s.role == dtls.RoleClient {
		s.deadline = time.Now().Add(fakeRetransmit)
		_ = s.io.Send(fakeClientHello(s.key))
	}
	return nil
}

func (s *fakeSession) Feed(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == dtls.PhaseClosed {
		return dtls.ErrClosed
	}
	ct, frag, ok := parseFakeRecord(b)
	if !ok {
		return fmt.Errorf("fake: malformed record of %d bytes", len(b))
	}

	switch s.phase {
	case dtls.PhaseHandshaking:
		if ct == fakeTypeAlert {
			s.closeLocked(errFakeAlert)
			return nil
		}
		if ct != fakeTypeHandshake || len(frag) == 0 {
			return nil
		}
		if s.role == dtls.RoleServer {
			s.serverHandshake(frag)
		} else {
			s.clientHandshake(frag)
		}
	case dtls.PhaseEstablished:
		switch ct {
		case fakeTypeAppData:
			s.plain = append(s.plain, bytes.Clone(frag))
		case fakeTypeAlert:
			s.closeLocked(fmt.Errorf("%w: close_notify", dtls.ErrPeerClosed))
		case fakeTypeGarbage:
			s.closeLocked(errFakeBadMAC)
		}
	}
	return nil
}

func (s *fakeSession) serverHandshake(frag []byte) {
	switch frag[0] {
	case fakeHelloClient:
		if !bytes.Equal(frag[1:], s.key) {
			_ = s.io.Send(fakeRecord(fakeTypeAlert, 0, []byte{2, 40}))
			s.closeLocked(errFakeAlert)
			return
		}
		cert := bytes.Repeat([]byte{'c'}, s.drv.certSize)
		_ = s.io.Send(fakeRecord(fakeTypeHandshake, 0, append([]byte{fakeHelloServer}, cert...)))
	case fakeFinished:
		s.phase = dtls.PhaseEstablished
	}
}

func (s *fakeSession) clientHandshake(frag []byte) {
	if frag[0] != fakeHelloServer {
		return
	}
	if cert := frag[1:]; s.drv.maxPeer > 0 && len(cert) > s.drv.maxPeer {
		s.closeLocked(fmt.Errorf("%w: certificate of %d bytes", dtls.ErrPeerCredentialTooLarge, len(cert)))
		return
	}
	_ = s.io.Send(fakeRecord(fakeTypeHandshake, 1, []byte{fakeFinished}))
	s.phase = dtls.PhaseEstablished
	s.deadline = time.Time{}
}

func (s *fakeSession) Phase() dtls.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

func (s *fakeSession) Timeout(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != dtls.PhaseHandshaking || s.role != dtls.RoleClient || s.deadline.IsZero() || now.Before(s.deadline) {
		return nil
	}
	s.retransmits++
	s.deadline = now.Add(fakeRetransmit)
	return s.io.Send(fakeClientHello(s.key))
}

func (s *fakeSession) ReadPlaintext() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.plain) == 0 {
		return nil, false
	}
	p := s.plain[0]
	s.plain = s.plain[1:]
	return p, true
}

func (s *fakeSession) Encrypt(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case dtls.PhaseEstablished:
		return s.io.Send(fakeRecord(fakeTypeAppData, 1, p))
	case dtls.PhaseClosing, dtls.PhaseClosed:
		if s.err != nil {
			return s.err
		}
		return dtls.ErrClosed
	default:
		return dtls.ErrNotEstablished
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == dtls.PhaseEstablished {
		s.closeNotifies++
		_ = s.io.Send(fakeRecord(fakeTypeAlert, 1, []byte{1, 0}))
	}
	s.closeLocked(dtls.ErrClosed)
	s.plain = nil
	return nil
}

func (s *fakeSession) closeLocked(err error) {
	if s.phase == dtls.PhaseClosed {
		return
	}
	s.phase = dtls.PhaseClosed
	s.deadline = time.Time{}
	if s.err == nil {
		s.err = err
	}
}

func (s *fakeSession) stats() (retransmits, closeNotifies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retransmits, s.closeNotifies
}
