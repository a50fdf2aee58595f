package dtls

import (
	"errors"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// VersionDTLS12 는 DTLS 1.2 의 wire 버전 값입니다.
const VersionDTLS12 uint16 = 0xfefd

var (
	// ErrUnsupportedVersion 은 드라이버가 요청된 DTLS 버전을 지원하지 않을 때 반환됩니다.
	ErrUnsupportedVersion = errors.New("dtls: unsupported protocol version")
	// ErrNoCredentials 는 역할에 맞는 크리덴셜이 없을 때 반환됩니다.
	ErrNoCredentials = errors.New("dtls: no usable credential for role")
	// ErrPeerCredentialTooLarge 는 피어 인증서/identity 가 허용 크기를 넘었을 때 반환됩니다.
	ErrPeerCredentialTooLarge = errors.New("dtls: peer credential exceeds size limit")
	// ErrPeerKeyMismatch 는 피어 공개키가 고정(pin)된 키와 다를 때 반환됩니다.
	ErrPeerKeyMismatch = errors.New("dtls: peer public key not pinned")
	// ErrUnknownIdentity 는 서버가 클라이언트 PSK identity 를 모를 때 반환됩니다.
	ErrUnknownIdentity = errors.New("dtls: unknown psk identity")
	// ErrHandshakeTimeout 은 드라이버 자체 핸드셰이크 타임아웃입니다.
	ErrHandshakeTimeout = errors.New("dtls: handshake timed out")
	// ErrPeerClosed 는 피어가 close_notify 를 보냈거나 레코드 계층이 치명적으로 실패했음을 뜻합니다.
	ErrPeerClosed = errors.New("dtls: session closed by peer")
	// ErrNotEstablished 는 핸드셰이크가 끝나지 않은 세션에 Encrypt 를 호출했을 때 반환됩니다.
	ErrNotEstablished = errors.New("dtls: session not established")
	// ErrClosed 는 닫힌 세션/드라이버에 대한 호출입니다.
	ErrClosed = errors.New("dtls: closed")
	// ErrQueueFull 은 세션 수신 큐가 가득 차 데이터그램을 버렸을 때 반환됩니다.
	ErrQueueFull = errors.New("dtls: inbound queue full")
)

// Role 은 세션에서의 핸드셰이크 역할입니다.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Phase 는 세션의 핸드셰이크 단계입니다.
// fresh → handshaking → established → closing → closed 순서로만 진행하며,
// 어느 단계에서든 치명적 오류가 나면 바로 closed 가 됩니다.
type Phase int

const (
	PhaseFresh Phase = iota
	PhaseHandshaking
	PhaseEstablished
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseFresh:
		return "fresh"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseEstablished:
		return "established"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionIO 는 드라이버 세션이 바깥과 통신하는 통로입니다.
//   - Send   : 암호화된 데이터그램 하나를 원격으로 전송 (여러 goroutine 에서 호출될 수 있음)
//   - Notify : 단계 변화나 평문 도착을 알림 (블로킹 중인 수신을 깨우는 용도)
type SessionIO struct {
	Send   func([]byte) error
	Notify func()
}

// Driver 는 DTLS 레코드 계층/핸드셰이크 엔진을 추상화합니다.
type Driver interface {
	// NewSession 은 remote 와의 새 세션 상태를 만듭니다. 네트워크 트래픽은 Start 이후에 발생합니다.
	NewSession(role Role, remote udp.Endpoint, creds []credman.Credential, io SessionIO) (DriverSession, error)
	Close() error
}

// DriverSession 은 원격 하나와의 DTLS 상태 머신입니다.
//
// Feed 로 암호문을 넣고, 출력 암호문은 SessionIO.Send 로, 평문은 ReadPlaintext 로 나옵니다.
// Deadline 이 zero 가 아니면 호출자는 그 시각에 Timeout 을 호출해 재전송을 구동해야 합니다.
type DriverSession interface {
	Start() error
	Feed(ciphertext []byte) error
	Phase() Phase
	Err() error
	Deadline() time.Time
	Timeout(now time.Time) error
	ReadPlaintext() ([]byte, bool)
	Encrypt(plaintext []byte) error
	Close() error
}
