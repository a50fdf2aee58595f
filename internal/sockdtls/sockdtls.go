// Package sockdtls 는 이미 바인딩된 UDP 엔드포인트 위에 DTLS 세션 의미론을 얹는 소켓 facade 입니다.
//
// 하나의 Sock 은 하나의 goroutine 이 소유합니다. facade 는 goroutine 을 만들지 않으며,
// 블로킹은 deadline 이 있는 UDP 수신 루프로 구현됩니다.
package sockdtls

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/dtls"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// Method 는 DTLS 프로토콜 버전 힌트입니다. 0 은 드라이버 기본값입니다.
type Method uint16

const (
	MethodDefault Method = 0
	MethodDTLSv12 Method = Method(dtls.VersionDTLS12)
)

// NoTimeout 은 Recv/EstablishSession 이 무기한 대기하도록 합니다.
const NoTimeout time.Duration = -1

// TimeoutFromMicros 는 마이크로초 단위 타임아웃을 time.Duration 으로 변환합니다.
// 0xFFFFFFFF 는 NoTimeout 입니다.
func TimeoutFromMicros(us uint32) time.Duration {
	if us == math.MaxUint32 {
		return NoTimeout
	}
	return time.Duration(us) * time.Microsecond
}

var initialized atomic.Bool

// Init 은 프로세스당 한 번 호출해야 하며, 기본 credential 레지스트리를 준비합니다.
// 여러 번 호출해도 안전합니다.
func Init() {
	credman.Init()
	initialized.Store(true)
}

// Role 은 소켓의 역할 힌트입니다.
type Role int

const (
	RoleUnset Role = iota
	RoleClient
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unset"
	}
}

// Sock 은 DTLS 소켓입니다. UDP 엔드포인트는 빌려 쓰기만 하며 Destroy 해도 닫지 않습니다.
type Sock struct {
	id      string
	udp     udp.Sock
	tag     credman.Tag
	method  Method
	cfg     Config
	reg     *credman.Registry
	drv     dtls.Driver
	log     logging.Logger
	limiter *rate.Limiter
	table   *table

	listening bool
	dialed    bool
	destroyed atomic.Bool

	rxbuf     []byte
	recvEpoch uint64
	rr        int
}

// Create 는 기본 설정으로 DTLS 소켓을 만듭니다.
func Create(u udp.Sock, tag credman.Tag, method Method) (*Sock, error) {
	return CreateWithConfig(u, tag, method, DefaultConfig())
}

// CreateWithConfig 는 u 위에 DTLS 소켓을 만듭니다. 네트워크 트래픽은 발생하지 않습니다.
//
// u 에 로컬 주소가 없으면 ErrNoLocalAddr, 드라이버가 method 를 지원하지 않으면
// dtls.ErrUnsupportedVersion, tag 에 credential 이 없으면 credman.ErrNotFound 를 반환합니다.
func CreateWithConfig(u udp.Sock, tag credman.Tag, method Method, cfg Config) (*Sock, error) {
	if !initialized.Load() {
		return nil, ErrNotInitialized
	}
	if u == nil {
		return nil, fmt.Errorf("%w: nil udp endpoint", ErrInvalidArg)
	}
	cfg = cfg.withDefaults()

	local, err := u.LocalEndpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLocalAddr, err)
	}

	reg := cfg.Registry
	if reg == nil {
		reg = credman.Default()
	}
	if _, err := reg.Lookup(tag); err != nil {
		return nil, fmt.Errorf("sockdtls: credential tag %d: %w", tag, err)
	}

	drv, err := cfg.NewDriver(method)
	if err != nil {
		return nil, fmt.Errorf("sockdtls: init driver: %w", err)
	}

	s := &Sock{
		id:     uuid.NewString(),
		udp:    u,
		tag:    tag,
		method: method,
		cfg:    cfg,
		reg:    reg,
		drv:    drv,
		table:  newTable(cfg.MaxSessions),
		rxbuf:  make([]byte, cfg.MaxDatagramSize),
	}
	if cfg.HandshakeRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.HandshakeRate), cfg.HandshakeBurst)
	}
	s.log = cfg.Logger.With(logging.Fields{
		"sock_id": s.id,
		"local":   local.String(),
		"tag":     uint16(tag),
	})
	s.log.Debug("dtls socket created", logging.Fields{
		"method":       fmt.Sprintf("0x%04x", uint16(method)),
		"max_sessions": cfg.MaxSessions,
	})
	return s, nil
}

// InitServer 는 소켓이 새 클라이언트의 ClientHello 를 받아들이도록 합니다. 여러 번 호출해도 안전합니다.
//
// RPK 는 클라이언트 전용이므로, tag 에 RPK 만 있으면 서버 핸드셰이크는 모두 거절되고 경고를 남깁니다.
func (s *Sock) InitServer() {
	if s.destroyed.Load() || s.listening {
		return
	}
	s.listening = true
	s.log.Info("dtls socket listening", nil)
	if creds, err := s.reg.Lookup(s.tag); err == nil && !serverCapable(creds) {
		s.log.Warn("credential tag has no server credential; inbound handshakes will be rejected", logging.Fields{
			"types": credentialTypes(creds),
		})
	}
}

// serverCapable 은 creds 중 서버 역할에 쓸 수 있는 것(PSK, ECDSA)이 있는지 검사합니다.
func serverCapable(creds []credman.Credential) bool {
	for _, c := range creds {
		if c.Type() != credman.TypeRPK {
			return true
		}
	}
	return false
}

func credentialTypes(creds []credman.Credential) []string {
	out := make([]string, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Type().String())
	}
	return out
}

// Destroy 는 모든 세션을 닫고 드라이버를 해제합니다. UDP 엔드포인트는 호출자에게 그대로 돌려줍니다.
// 이후 다른 모든 연산은 ErrInvalidArg 를 반환합니다.
func (s *Sock) Destroy() {
	if s == nil || s.destroyed.Swap(true) {
		return
	}
	n := s.table.len()
	for _, e := range s.table.entries() {
		s.dropEntry(e)
	}
	if err := s.drv.Close(); err != nil {
		s.log.Warn("failed to close dtls driver", logging.Fields{"error": err.Error()})
	}
	s.log.Info("dtls socket destroyed", logging.Fields{"closed_sessions": n})
}

// ID 는 로그 상관관계용 소켓 식별자입니다.
func (s *Sock) ID() string { return s.id }

// Tag 는 소켓의 credential tag 입니다.
func (s *Sock) Tag() credman.Tag { return s.tag }

// Method 는 생성 시 지정한 버전 힌트입니다.
func (s *Sock) Method() Method { return s.method }

// Role 은 소켓의 역할 힌트입니다. 서버 모드가 클라이언트 사용보다 우선합니다.
func (s *Sock) Role() Role {
	switch {
	case s.listening:
		return RoleServer
	case s.dialed:
		return RoleClient
	default:
		return RoleUnset
	}
}

// LocalEndpoint 는 UDP 엔드포인트의 로컬 주소입니다.
func (s *Sock) LocalEndpoint() (udp.Endpoint, error) {
	if err := s.check(); err != nil {
		return udp.Endpoint{}, err
	}
	ep, err := s.udp.LocalEndpoint()
	if err != nil {
		return udp.Endpoint{}, fmt.Errorf("%w: %v", ErrNoLocalAddr, err)
	}
	return ep, nil
}

func (s *Sock) check() error {
	if s == nil || s.destroyed.Load() {
		return fmt.Errorf("%w: socket destroyed", ErrInvalidArg)
	}
	return nil
}

// notify 는 드라이버 goroutine 에서 호출되어 블로킹 중인 수신을 깨웁니다.
func (s *Sock) notify() {
	if !s.destroyed.Load() {
		s.udp.Wake()
	}
}

// validateRemote 는 원격 엔드포인트와 로컬 주소 체계의 호환성을 검사합니다.
func validateRemote(local, remote udp.Endpoint) error {
	if remote.IsUnspecified() || remote.Port == 0 {
		return fmt.Errorf("%w: remote %v", ErrInvalidArg, remote)
	}
	switch local.Family() {
	case udp.FamilyINET:
		if remote.Family() != udp.FamilyINET {
			return fmt.Errorf("%w: %s remote on %s socket", ErrAddrFamily, remote.Family(), local.Family())
		}
	case udp.FamilyINET6:
		// 와일드카드 IPv6 바인딩은 dual-stack 으로 IPv4 도 허용합니다.
		if !local.IsUnspecified() && remote.Family() != udp.FamilyINET6 {
			return fmt.Errorf("%w: %s remote on %s socket", ErrAddrFamily, remote.Family(), local.Family())
		}
	}
	return nil
}
