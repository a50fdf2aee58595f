package dtls

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v3"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// PionConfig 는 pion/dtls 기반 드라이버 구성입니다. (ko)
// PionConfig configures the pion/dtls backed driver. (en)
type PionConfig struct {
	// Version 은 0(드라이버 기본) 또는 VersionDTLS12 입니다.
	Version uint16

	// HandshakeTimeout 은 드라이버 자체의 핸드셰이크 상한입니다.
	HandshakeTimeout time.Duration
	// FlightInterval 은 핸드셰이크 flight 재전송 간격입니다. 0 이면 pion 기본값.
	FlightInterval time.Duration
	// MTU 는 핸드셰이크 메시지 분할 기준입니다. 0 이면 pion 기본값.
	MTU int
	// MaxPeerCredentialSize 는 피어 인증서 체인/PSK identity 의 최대 바이트 수입니다.
	MaxPeerCredentialSize int
	// InboundQueueBytes 는 세션별 암호문 수신 큐 크기입니다.
	InboundQueueBytes int
	// PlaintextQueueLen 은 세션별로 보관하는 복호화된 데이터그램 수입니다.
	PlaintextQueueLen int
	// ReplayProtectionWindow 는 0 이면 pion 기본값.
	ReplayProtectionWindow int

	Logger    logging.Logger
	PionTrace bool
}

// DefaultPionConfig 는 기본 드라이버 구성을 반환합니다.
func DefaultPionConfig() PionConfig {
	return PionConfig{
		HandshakeTimeout:      30 * time.Second,
		MaxPeerCredentialSize: 4096,
		InboundQueueBytes:     256 * 1024,
		PlaintextQueueLen:     64,
	}
}

func (c PionConfig) withDefaults() PionConfig {
	def := DefaultPionConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxPeerCredentialSize <= 0 {
		c.MaxPeerCredentialSize = def.MaxPeerCredentialSize
	}
	if c.InboundQueueBytes <= 0 {
		c.InboundQueueBytes = def.InboundQueueBytes
	}
	if c.PlaintextQueueLen <= 0 {
		c.PlaintextQueueLen = def.PlaintextQueueLen
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	return c
}

// PionDriver 는 pion/dtls v3 로 세션을 구동하는 Driver 구현입니다.
type PionDriver struct {
	cfg PionConfig
	log logging.Logger

	mu       sync.Mutex
	sessions map[*pionSession]struct{}
	closed   bool
}

var _ Driver = (*PionDriver)(nil)

// NewPionDriver 는 pion 드라이버를 생성합니다. 지원하지 않는 버전이면 ErrUnsupportedVersion.
func NewPionDriver(cfg PionConfig) (*PionDriver, error) {
	if cfg.Version != 0 && cfg.Version != VersionDTLS12 {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedVersion, cfg.Version)
	}
	cfg = cfg.withDefaults()
	return &PionDriver{
		cfg:      cfg,
		log:      cfg.Logger.With(logging.Fields{"driver": "pion"}),
		sessions: make(map[*pionSession]struct{}),
	}, nil
}

// NewSession 은 remote 와의 세션 상태를 만듭니다. 핸드셰이크는 Start 에서 시작됩니다.
func (d *PionDriver) NewSession(role Role, remote udp.Endpoint, creds []credman.Credential, io SessionIO) (DriverSession, error) {
	if io.Send == nil {
		return nil, fmt.Errorf("dtls: SessionIO.Send is required")
	}
	if io.Notify == nil {
		io.Notify = func() {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &pionSession{
		drv:              d,
		role:             role,
		remote:           remote,
		io:               io,
		handshakeTimeout: d.cfg.HandshakeTimeout,
		queueLen:         d.cfg.PlaintextQueueLen,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		log: d.log.With(logging.Fields{
			"remote": remote.String(),
			"role":   role.String(),
		}),
	}
	s.pc = newSessionPacketConn(
		net.UDPAddrFromAddrPort(remote.AddrPort()),
		d.cfg.InboundQueueBytes,
		io.Send,
		s.recordSendErr,
	)

	pcfg, err := d.pionConfig(role, creds, s)
	if err != nil {
		cancel()
		_ = s.pc.Close()
		return nil, err
	}
	s.cfg = pcfg

	d.sessions[s] = struct{}{}
	return s, nil
}

// Close 는 남아 있는 모든 세션을 닫고 드라이버를 해제합니다.
func (d *PionDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	live := make([]*pionSession, 0, len(d.sessions))
	for s := range d.sessions {
		live = append(live, s)
	}
	d.mu.Unlock()

	for _, s := range live {
		_ = s.Close()
	}
	return nil
}

func (d *PionDriver) forget(s *pionSession) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

// pionConfig 는 크리덴셜 목록을 pion 설정으로 변환합니다.
// 한 tag 에 여러 종류가 있으면 PSK, ECDSA, RPK 순으로 우선합니다.
func (d *PionDriver) pionConfig(role Role, creds []credman.Credential, s *pionSession) (*piondtls.Config, error) {
	var (
		psk *credman.PSK
		ec  *credman.ECDSA
		rpk *credman.RPK
	)
	for _, c := range creds {
		if p, ok := c.PSK(); ok && psk == nil {
			psk = p
		}
		if e, ok := c.ECDSA(); ok && ec == nil {
			ec = e
		}
		if r, ok := c.RPK(); ok && rpk == nil {
			rpk = r
		}
	}

	cfg := &piondtls.Config{
		ExtendedMasterSecret:   piondtls.RequireExtendedMasterSecret,
		FlightInterval:         d.cfg.FlightInterval,
		MTU:                    d.cfg.MTU,
		ReplayProtectionWindow: d.cfg.ReplayProtectionWindow,
		LoggerFactory: logging.PionFactory{
			Logger: s.log,
			Trace:  d.cfg.PionTrace,
		},
	}

	verifier := &peerVerifier{
		maxSize: d.cfg.MaxPeerCredentialSize,
		logger:  s.log,
		onFail:  s.recordVerifyErr,
	}

	switch {
	case psk != nil:
		cfg.CipherSuites = []piondtls.CipherSuiteID{
			piondtls.TLS_PSK_WITH_AES_128_CCM_8,
			piondtls.TLS_PSK_WITH_AES_128_GCM_SHA256,
		}
		if role == RoleClient {
			id := psk.ID
			if id == nil {
				id = []byte{}
			}
			cfg.PSKIdentityHint = id
			cfg.PSK = func([]byte) ([]byte, error) {
				return psk.Key, nil
			}
		} else {
			if len(psk.Hint) > 0 {
				cfg.PSKIdentityHint = psk.Hint
			}
			cfg.PSK = func(identity []byte) ([]byte, error) {
				return s.serverPSK(psk, identity, d.cfg.MaxPeerCredentialSize)
			}
		}

	case ec != nil:
		cert, err := NewSelfSignedCertificate(ec.PrivateKey, "")
		if err != nil {
			return nil, fmt.Errorf("dtls: build certificate: %w", err)
		}
		cfg.Certificates = append(cfg.Certificates, cert)
		cfg.CipherSuites = []piondtls.CipherSuiteID{piondtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}
		cfg.InsecureSkipVerify = true
		verifier.pins = append([]*ecdsa.PublicKey(nil), ec.ClientKeys...)
		if role == RoleServer && len(ec.ClientKeys) > 0 {
			cfg.ClientAuth = piondtls.RequireAnyClientCert
		}
		cfg.VerifyPeerCertificate = verifier.verify

	case rpk != nil && role == RoleClient:
		cfg.CipherSuites = []piondtls.CipherSuiteID{piondtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}
		cfg.InsecureSkipVerify = true
		verifier.pins = []*ecdsa.PublicKey{rpk.PublicKey}
		cfg.VerifyPeerCertificate = verifier.verify

	default:
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, role)
	}

	return cfg, nil
}
