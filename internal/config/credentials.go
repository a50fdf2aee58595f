package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dalbodeule/sock-dtls/internal/credman"
)

// credentialsFile 은 credential YAML 파일의 최상위 구조입니다.
//
//	credentials:
//	  - tag: 1
//	    type: psk
//	    key: secretPSK          # 또는 key_hex
//	    id: Client_identity
//	  - tag: 2
//	    type: ecdsa
//	    private_key_hex: "..."  # 32바이트 스칼라
//	    client_keys:
//	      - {x_hex: "...", y_hex: "..."}
//	  - tag: 3
//	    type: rpk
//	    public_x_hex: "..."
//	    public_y_hex: "..."
type credentialsFile struct {
	Credentials []credentialEntry `yaml:"credentials"`
}

type credentialEntry struct {
	Tag  uint16 `yaml:"tag"`
	Type string `yaml:"type"`

	// psk
	Key    string `yaml:"key"`
	KeyHex string `yaml:"key_hex"`
	ID     string `yaml:"id"`
	Hint   string `yaml:"hint"`

	// ecdsa / rpk
	PrivateKeyHex string     `yaml:"private_key_hex"`
	PublicXHex    string     `yaml:"public_x_hex"`
	PublicYHex    string     `yaml:"public_y_hex"`
	ClientKeys    []pointHex `yaml:"client_keys"`
}

type pointHex struct {
	X string `yaml:"x_hex"`
	Y string `yaml:"y_hex"`
}

// ParseCredentials 는 YAML 문서를 credential 목록으로 변환합니다.
func ParseCredentials(data []byte) ([]credman.Credential, error) {
	var f credentialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials yaml: %w", err)
	}

	out := make([]credman.Credential, 0, len(f.Credentials))
	for i, e := range f.Credentials {
		params, err := e.params()
		if err != nil {
			return nil, fmt.Errorf("credential #%d (tag %d): %w", i, e.Tag, err)
		}
		out = append(out, credman.Credential{Tag: credman.Tag(e.Tag), Params: params})
	}
	return out, nil
}

// LoadCredentialsFile 은 path 의 YAML 파일을 읽어 reg 에 등록하고 등록 수를 반환합니다.
func LoadCredentialsFile(path string, reg *credman.Registry) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read credentials file: %w", err)
	}
	creds, err := ParseCredentials(data)
	if err != nil {
		return 0, err
	}
	for i, c := range creds {
		if err := reg.Add(c); err != nil {
			return i, fmt.Errorf("add credential tag %d (%s): %w", c.Tag, c.Type(), err)
		}
	}
	return len(creds), nil
}

func (e credentialEntry) params() (credman.Params, error) {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "psk":
		key := []byte(e.Key)
		if e.KeyHex != "" {
			b, err := hex.DecodeString(e.KeyHex)
			if err != nil {
				return nil, fmt.Errorf("key_hex: %w", err)
			}
			key = b
		}
		psk := &credman.PSK{Key: key}
		if e.ID != "" {
			psk.ID = []byte(e.ID)
		}
		if e.Hint != "" {
			psk.Hint = []byte(e.Hint)
		}
		return psk, nil

	case "ecdsa":
		priv, err := decodeHex("private_key_hex", e.PrivateKeyHex)
		if err != nil {
			return nil, err
		}
		x, err := decodeHex("public_x_hex", e.PublicXHex)
		if err != nil {
			return nil, err
		}
		y, err := decodeHex("public_y_hex", e.PublicYHex)
		if err != nil {
			return nil, err
		}
		clients := make([][2][]byte, 0, len(e.ClientKeys))
		for i, p := range e.ClientKeys {
			cx, err := decodeHex(fmt.Sprintf("client_keys[%d].x_hex", i), p.X)
			if err != nil {
				return nil, err
			}
			cy, err := decodeHex(fmt.Sprintf("client_keys[%d].y_hex", i), p.Y)
			if err != nil {
				return nil, err
			}
			clients = append(clients, [2][]byte{cx, cy})
		}
		return credman.ECDSAFromRaw(priv, x, y, clients)

	case "rpk":
		x, err := decodeHex("public_x_hex", e.PublicXHex)
		if err != nil {
			return nil, err
		}
		y, err := decodeHex("public_y_hex", e.PublicYHex)
		if err != nil {
			return nil, err
		}
		pub, err := credman.PublicKeyFromRaw(x, y)
		if err != nil {
			return nil, err
		}
		return &credman.RPK{PublicKey: pub}, nil

	default:
		return nil, fmt.Errorf("%w: unknown credential type %q", credman.ErrInvalid, e.Type)
	}
}

func decodeHex(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}
