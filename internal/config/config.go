package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/credman"
)

// LoggingConfig 는 공통 로그 설정을 담습니다.
type LoggingConfig struct {
	Level        string            // 예: "debug", "info", "warn", "error"
	PionTrace    bool              // true 이면 pion 내부 trace 로그까지 출력
	StaticFields map[string]string // 모든 로그에 공통으로 붙일 필드 (env=dev,site=lab 등)
}

// DTLSConfig 는 DTLS 소켓과 드라이버 설정을 담습니다.
type DTLSConfig struct {
	Tag             uint16 // 소켓이 사용할 credential tag
	PSK             string // 환경변수로 주는 PSK 키 (비어 있으면 사용 안 함)
	PSKID           string // 클라이언트 PSK identity
	PSKHint         string // 서버 PSK identity hint
	CredentialsFile string // YAML credential 파일 경로 (선택)

	MaxSessions           int
	HandshakeTimeout      time.Duration // EstablishSession 기본 타임아웃
	SendHandshakeTimeout  time.Duration // Send 의 암묵적 핸드셰이크 타임아웃
	FlightInterval        time.Duration
	MTU                   int
	HandshakeRate         float64 // 초당 서버 핸드셰이크 허용 수 (0 = 무제한)
	HandshakeBurst        int
	MaxPeerCredentialSize int
}

// ServerConfig 는 echo 서버 프로세스 설정을 담습니다.
type ServerConfig struct {
	Listen        string // 예: "[::]:20220"
	MetricsListen string // 예: ":9100" (비어 있으면 메트릭 서버 비활성화)
	Debug         bool

	DTLS    DTLSConfig
	Logging LoggingConfig
}

// ClientConfig 는 echo 클라이언트 프로세스 설정을 담습니다.
//   - Local    : 바인딩할 로컬 주소 (예: "[::]:0")
//   - Remote   : DTLS 서버 주소 (예: "[::1]:20220")
//   - Messages : 전송할 메시지 목록
//
// 값은 .env/환경변수와 CLI 인자를 조합해 구성하며,
// CLI 인자가 우선, env 가 후순위로 적용됩니다.
type ClientConfig struct {
	Local    string
	Remote   string
	Messages []string
	Debug    bool

	DTLS    DTLSConfig
	Logging LoggingConfig
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotEnvOnce 는 현재 작업 디렉터리의 .env 파일을 한 번만 읽어서 os.Environ 에 주입합니다.
// - KEY=VALUE, export KEY=VALUE 형식을 지원
// - # 으로 시작하는 줄은 주석으로 간주합니다.
func loadDotEnvOnce() {
	dotenvOnce.Do(func() {
		fi, err := os.Stat(".env")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// .env 가 없으면 조용히 무시
				return
			}
			dotenvErr = err
			return
		}
		if fi.IsDir() {
			return
		}

		f, err := os.Open(".env")
		if err != nil {
			dotenvErr = err
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

			// 이미 OS 환경변수에 설정된 값이 우선합니다.
			if key != "" {
				if _, exists := os.LookupEnv(key); !exists {
					_ = os.Setenv(key, val)
				}
			}
		}
		dotenvErr = scanner.Err()
	})
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envParser 는 숫자/시간 환경변수를 읽으며 첫 번째 파싱 오류를 기억합니다.
type envParser struct {
	err error
}

func (p *envParser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (p *envParser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *envParser) uint16(key string, def uint16) uint16 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return uint16(v)
}

func (p *envParser) float(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func parseCSVEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseKeyValueCSV 는 "k1=v1,k2=v2" 형태의 문자열을 map 으로 변환합니다.
func parseKeyValueCSV(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k != "" {
			m[k] = v
		}
	}
	return m
}

// loadLoggingFromEnv 는 공통 로그 설정을 .env/환경변수에서 읽어옵니다.
func loadLoggingFromEnv() LoggingConfig {
	return LoggingConfig{
		Level:        getEnvOrDefault("SOCK_DTLS_LOG_LEVEL", "info"),
		PionTrace:    getEnvBool("SOCK_DTLS_PION_TRACE", false),
		StaticFields: parseKeyValueCSV(os.Getenv("SOCK_DTLS_LOG_FIELDS")),
	}
}

// loadDTLSFromEnv 는 서버/클라이언트 공통 DTLS 설정을 읽습니다.
func loadDTLSFromEnv(p *envParser) DTLSConfig {
	return DTLSConfig{
		Tag:                   p.uint16("SOCK_DTLS_TAG", 1),
		PSK:                   os.Getenv("SOCK_DTLS_PSK"),
		PSKID:                 os.Getenv("SOCK_DTLS_PSK_ID"),
		PSKHint:               os.Getenv("SOCK_DTLS_PSK_HINT"),
		CredentialsFile:       os.Getenv("SOCK_DTLS_CREDENTIALS_FILE"),
		MaxSessions:           p.int("SOCK_DTLS_MAX_SESSIONS", 16),
		HandshakeTimeout:      p.duration("SOCK_DTLS_HANDSHAKE_TIMEOUT", 10*time.Second),
		SendHandshakeTimeout:  p.duration("SOCK_DTLS_SEND_HANDSHAKE_TIMEOUT", 5*time.Second),
		FlightInterval:        p.duration("SOCK_DTLS_FLIGHT_INTERVAL", 0),
		MTU:                   p.int("SOCK_DTLS_MTU", 0),
		HandshakeRate:         p.float("SOCK_DTLS_HANDSHAKE_RATE", 0),
		HandshakeBurst:        p.int("SOCK_DTLS_HANDSHAKE_BURST", 4),
		MaxPeerCredentialSize: p.int("SOCK_DTLS_MAX_PEER_CREDENTIAL_SIZE", 4096),
	}
}

// LoadServerConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 서버 설정을 구성합니다.
func LoadServerConfigFromEnv() (*ServerConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	var p envParser
	cfg := &ServerConfig{
		Listen:        normalizeListen(os.Getenv("SOCK_DTLS_LISTEN"), fmt.Sprintf("[::]:%d", DefaultPort)),
		MetricsListen: os.Getenv("SOCK_DTLS_METRICS_LISTEN"),
		Debug:         getEnvBool("SOCK_DTLS_DEBUG", false),
		DTLS:          loadDTLSFromEnv(&p),
		Logging:       loadLoggingFromEnv(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// LoadClientConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 클라이언트 설정을 구성합니다.
func LoadClientConfigFromEnv() (*ClientConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	var p envParser
	cfg := &ClientConfig{
		Local:    normalizeListen(os.Getenv("SOCK_DTLS_LOCAL"), "[::]:0"),
		Remote:   os.Getenv("SOCK_DTLS_REMOTE"),
		Messages: parseCSVEnv("SOCK_DTLS_MESSAGES"),
		Debug:    getEnvBool("SOCK_DTLS_DEBUG", false),
		DTLS:     loadDTLSFromEnv(&p),
		Logging:  loadLoggingFromEnv(),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// DefaultPort 는 SOCK_DTLS_LISTEN 이 비어 있을 때 사용하는 포트입니다.
const DefaultPort = 20220

// normalizeListen 은 숫자 포트만 지정된 경우 dual-stack 주소를 붙입니다. (예: "20220" -> "[::]:20220")
func normalizeListen(p string, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if strings.HasPrefix(p, ":") {
		return "[::]" + p
	}
	if _, err := strconv.Atoi(p); err == nil {
		return "[::]:" + p
	}
	return p
}

// EnvCredentials 는 SOCK_DTLS_PSK 가 설정된 경우 해당 PSK credential 을 반환합니다.
func (c DTLSConfig) EnvCredentials() []credman.Credential {
	if c.PSK == "" {
		return nil
	}
	psk := &credman.PSK{Key: []byte(c.PSK)}
	if c.PSKID != "" {
		psk.ID = []byte(c.PSKID)
	}
	if c.PSKHint != "" {
		psk.Hint = []byte(c.PSKHint)
	}
	return []credman.Credential{{Tag: credman.Tag(c.Tag), Params: psk}}
}

// LoadCredentials 는 환경변수 PSK 와 credential 파일을 reg 에 등록하고 등록 수를 반환합니다.
func (c DTLSConfig) LoadCredentials(reg *credman.Registry) (int, error) {
	n := 0
	for _, cred := range c.EnvCredentials() {
		if err := reg.Add(cred); err != nil {
			return n, fmt.Errorf("add env credential: %w", err)
		}
		n++
	}
	if c.CredentialsFile != "" {
		m, err := LoadCredentialsFile(c.CredentialsFile, reg)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
