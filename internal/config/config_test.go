package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dalbodeule/sock-dtls/internal/credman"
)

func TestNormalizeListen(t *testing.T) {
	tests := []struct {
		in, def, want string
	}{
		{"", "[::]:20220", "[::]:20220"},
		{"20220", "", "[::]:20220"},
		{":5684", "", "[::]:5684"},
		{"127.0.0.1:9000", "", "127.0.0.1:9000"},
	}
	for _, tt := range tests {
		if got := normalizeListen(tt.in, tt.def); got != tt.want {
			t.Errorf("normalizeListen(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyValueCSV(t *testing.T) {
	got := parseKeyValueCSV("env=dev, site = lab ,broken,=x")
	want := map[string]string{"env": "dev", "site": "lab"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parseKeyValueCSV mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("SOCK_DTLS_LISTEN", "5684")
	t.Setenv("SOCK_DTLS_TAG", "7")
	t.Setenv("SOCK_DTLS_PSK", "secretPSK")
	t.Setenv("SOCK_DTLS_PSK_HINT", "hint")
	t.Setenv("SOCK_DTLS_MAX_SESSIONS", "4")
	t.Setenv("SOCK_DTLS_HANDSHAKE_TIMEOUT", "3s")
	t.Setenv("SOCK_DTLS_HANDSHAKE_RATE", "2.5")
	t.Setenv("SOCK_DTLS_LOG_FIELDS", "env=test")
	t.Setenv("SOCK_DTLS_DEBUG", "yes")

	cfg, err := LoadServerConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadServerConfigFromEnv: %v", err)
	}
	if cfg.Listen != "[::]:5684" || !cfg.Debug {
		t.Errorf("listen=%q debug=%v", cfg.Listen, cfg.Debug)
	}
	if cfg.DTLS.Tag != 7 || cfg.DTLS.MaxSessions != 4 || cfg.DTLS.HandshakeTimeout != 3*time.Second {
		t.Errorf("unexpected dtls config %+v", cfg.DTLS)
	}
	if cfg.DTLS.HandshakeRate != 2.5 || cfg.DTLS.HandshakeBurst != 4 {
		t.Errorf("rate=%v burst=%d", cfg.DTLS.HandshakeRate, cfg.DTLS.HandshakeBurst)
	}
	if cfg.Logging.StaticFields["env"] != "test" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}

	creds := cfg.DTLS.EnvCredentials()
	if len(creds) != 1 || creds[0].Tag != 7 {
		t.Fatalf("EnvCredentials = %+v", creds)
	}
	psk, ok := creds[0].PSK()
	if !ok || string(psk.Key) != "secretPSK" || string(psk.Hint) != "hint" || psk.ID != nil {
		t.Fatalf("unexpected psk %+v", psk)
	}
}

func TestLoadClientConfigFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("SOCK_DTLS_MAX_SESSIONS", "many")
	if _, err := LoadClientConfigFromEnv(); err == nil {
		t.Fatalf("expected error for malformed SOCK_DTLS_MAX_SESSIONS")
	}
}

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("SOCK_DTLS_REMOTE", "[::1]:20220")
	t.Setenv("SOCK_DTLS_MESSAGES", "hello, world")
	t.Setenv("SOCK_DTLS_SEND_HANDSHAKE_TIMEOUT", "250ms")

	cfg, err := LoadClientConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadClientConfigFromEnv: %v", err)
	}
	if cfg.Local != "[::]:0" || cfg.Remote != "[::1]:20220" {
		t.Errorf("local=%q remote=%q", cfg.Local, cfg.Remote)
	}
	if diff := cmp.Diff([]string{"hello", "world"}, cfg.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if cfg.DTLS.SendHandshakeTimeout != 250*time.Millisecond {
		t.Errorf("send handshake timeout = %v", cfg.DTLS.SendHandshakeTimeout)
	}
	if cfg.DTLS.EnvCredentials() != nil {
		t.Errorf("no PSK configured, expected no env credentials")
	}
}

func hex32(b []byte) string {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return hex.EncodeToString(out)
}

func TestParseCredentials(t *testing.T) {
	server, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	client, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	doc := fmt.Sprintf(`
credentials:
  - tag: 1
    type: psk
    key: secretPSK
    id: Client_identity
  - tag: 1
    type: ecdsa
    private_key_hex: "%s"
    public_x_hex: "%s"
    public_y_hex: "%s"
    client_keys:
      - x_hex: "%s"
        y_hex: "%s"
  - tag: 2
    type: rpk
    public_x_hex: "%s"
    public_y_hex: "%s"
  - tag: 3
    type: psk
    key_hex: "00ff"
`,
		hex32(server.D.Bytes()), hex32(server.X.Bytes()), hex32(server.Y.Bytes()),
		hex32(client.X.Bytes()), hex32(client.Y.Bytes()),
		hex32(server.X.Bytes()), hex32(server.Y.Bytes()),
	)

	creds, err := ParseCredentials([]byte(doc))
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}
	if len(creds) != 4 {
		t.Fatalf("got %d credentials, want 4", len(creds))
	}

	gotTypes := []credman.Type{creds[0].Type(), creds[1].Type(), creds[2].Type(), creds[3].Type()}
	wantTypes := []credman.Type{credman.TypePSK, credman.TypeECDSA, credman.TypeRPK, credman.TypePSK}
	if diff := cmp.Diff(wantTypes, gotTypes); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}

	ec, _ := creds[1].ECDSA()
	if !ec.PrivateKey.PublicKey.Equal(&server.PublicKey) {
		t.Errorf("ecdsa key mismatch")
	}
	if len(ec.ClientKeys) != 1 || !ec.ClientKeys[0].Equal(&client.PublicKey) {
		t.Errorf("client key pin mismatch")
	}
	rpk, _ := creds[2].RPK()
	if !rpk.PublicKey.Equal(&server.PublicKey) {
		t.Errorf("rpk mismatch")
	}
	raw, _ := creds[3].PSK()
	if diff := cmp.Diff([]byte{0x00, 0xff}, raw.Key); diff != "" {
		t.Errorf("key_hex mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCredentialsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "credentials: [:"},
		{"unknown type", "credentials:\n  - tag: 1\n    type: x509\n"},
		{"bad hex", "credentials:\n  - tag: 1\n    type: psk\n    key_hex: zz\n"},
		{"bad rpk", "credentials:\n  - tag: 1\n    type: rpk\n    public_x_hex: \"01\"\n    public_y_hex: \"02\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCredentials([]byte(tt.doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := ParseCredentials([]byte("credentials:\n  - tag: 1\n    type: x509\n")); !errors.Is(err, credman.ErrInvalid) {
		t.Fatalf("unknown type should wrap credman.ErrInvalid, got %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	doc := "credentials:\n  - tag: 2\n    type: psk\n    key: other\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := credman.NewRegistry(4)
	cfg := DTLSConfig{Tag: 1, PSK: "secretPSK", CredentialsFile: path}
	n, err := cfg.LoadCredentials(reg)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if n != 2 || reg.Len() != 2 {
		t.Fatalf("loaded %d (registry %d), want 2", n, reg.Len())
	}

	// 같은 파일을 다시 등록하면 중복 오류
	if _, err := LoadCredentialsFile(path, reg); !errors.Is(err, credman.ErrExists) {
		t.Fatalf("duplicate load err = %v, want ErrExists", err)
	}
	if _, err := LoadCredentialsFile(filepath.Join(dir, "missing.yaml"), reg); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDTLSConfigSocketConfig(t *testing.T) {
	c := DTLSConfig{
		MaxSessions:           4,
		HandshakeTimeout:      time.Minute,
		FlightInterval:        200 * time.Millisecond,
		HandshakeRate:         2.5,
		MaxPeerCredentialSize: 1024,
	}
	sc := c.SocketConfig(nil, LoggingConfig{PionTrace: true})
	if sc.MaxSessions != 4 || sc.HandshakeRate != 2.5 {
		t.Errorf("sessions/rate = %d/%v", sc.MaxSessions, sc.HandshakeRate)
	}
	if sc.SendHandshakeTimeout != 5*time.Second || sc.HandshakeBurst != 4 {
		t.Errorf("defaults not kept: send=%v burst=%d", sc.SendHandshakeTimeout, sc.HandshakeBurst)
	}
	if sc.Pion.HandshakeTimeout != time.Minute || sc.Pion.FlightInterval != 200*time.Millisecond {
		t.Errorf("pion timeouts = %v/%v", sc.Pion.HandshakeTimeout, sc.Pion.FlightInterval)
	}
	if sc.Pion.MaxPeerCredentialSize != 1024 || !sc.Pion.PionTrace {
		t.Errorf("pion = %+v", sc.Pion)
	}
}
