package credman

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
)

// Tag 는 DTLS 소켓과 자격 증명(credential)을 묶는 부호 없는 정수 라벨입니다.
// 소켓은 자신과 같은 Tag 를 가진 자격 증명만 사용할 수 있습니다.
// 0 은 "태그 없음" 으로 예약되어 있습니다.
type Tag uint16

// NoTag 는 어떤 자격 증명에도 묶이지 않은 태그 값입니다.
const NoTag Tag = 0

// Type 은 자격 증명의 종류를 나타냅니다.
type Type int

const (
	TypeEmpty Type = iota
	TypePSK
	TypeECDSA
	TypeRPK
)

var typeName = map[Type]string{
	TypeEmpty: "empty",
	TypePSK:   "psk",
	TypeECDSA: "ecdsa",
	TypeRPK:   "rpk",
}

func (t Type) String() string {
	if s, ok := typeName[t]; ok {
		return s
	}
	return "unknown"
}

// Params 는 자격 증명 종류별 키 재료를 표현하는 합 타입(sum type)입니다.
// 구현체는 *PSK, *ECDSA, *RPK 세 가지뿐입니다.
type Params interface {
	credType() Type
	validate() error
}

// PSK 는 사전 공유 키 자격 증명입니다.
//   - Key  : 공유 키 바이트 (필수)
//   - ID   : 클라이언트가 서버에 보내는 PSK identity (선택)
//   - Hint : 서버가 클라이언트에 보내는 identity hint (선택)
type PSK struct {
	Key  []byte
	ID   []byte
	Hint []byte
}

func (*PSK) credType() Type { return TypePSK }

func (p *PSK) validate() error {
	if p == nil || len(p.Key) == 0 {
		return fmt.Errorf("%w: psk key is empty", ErrInvalid)
	}
	return nil
}

// ECDSA 는 P-256 키쌍과, 상대방으로 허용할 공개키 목록을 담습니다.
// ClientKeys 가 비어 있으면 상대 공개키 고정(pinning)을 하지 않습니다.
type ECDSA struct {
	PrivateKey *ecdsa.PrivateKey
	ClientKeys []*ecdsa.PublicKey
}

func (*ECDSA) credType() Type { return TypeECDSA }

func (e *ECDSA) validate() error {
	if e == nil || e.PrivateKey == nil {
		return fmt.Errorf("%w: ecdsa private key is missing", ErrInvalid)
	}
	if e.PrivateKey.Curve != elliptic.P256() {
		return fmt.Errorf("%w: ecdsa key must use P-256", ErrInvalid)
	}
	for i, k := range e.ClientKeys {
		if k == nil || k.Curve != elliptic.P256() {
			return fmt.Errorf("%w: client key %d must be a P-256 public key", ErrInvalid, i)
		}
	}
	return nil
}

// RPK 는 상대방의 raw public key 하나만 고정하는 자격 증명입니다.
// 자기 자신의 키 재료가 없으므로 클라이언트 역할에서만 사용할 수 있습니다.
type RPK struct {
	PublicKey *ecdsa.PublicKey
}

func (*RPK) credType() Type { return TypeRPK }

func (r *RPK) validate() error {
	if r == nil || r.PublicKey == nil {
		return fmt.Errorf("%w: rpk public key is missing", ErrInvalid)
	}
	if r.PublicKey.Curve != elliptic.P256() {
		return fmt.Errorf("%w: rpk must be a P-256 public key", ErrInvalid)
	}
	return nil
}

// Credential 은 Tag 와 키 재료를 묶은 레지스트리 엔트리입니다.
// 키 재료는 복사되지 않고 참조로 보관되므로, 이를 사용하는 세션보다 오래 살아 있어야 합니다.
type Credential struct {
	Tag    Tag
	Params Params
}

// Type 은 Params 의 종류를 반환합니다.
func (c Credential) Type() Type {
	if c.Params == nil {
		return TypeEmpty
	}
	return c.Params.credType()
}

// PSK 는 PSK 자격 증명인 경우 그 파라미터를 반환합니다.
func (c Credential) PSK() (*PSK, bool) {
	p, ok := c.Params.(*PSK)
	return p, ok
}

// ECDSA 는 ECDSA 자격 증명인 경우 그 파라미터를 반환합니다.
func (c Credential) ECDSA() (*ECDSA, bool) {
	p, ok := c.Params.(*ECDSA)
	return p, ok
}

// RPK 는 RPK 자격 증명인 경우 그 파라미터를 반환합니다.
func (c Credential) RPK() (*RPK, bool) {
	p, ok := c.Params.(*RPK)
	return p, ok
}

func (c Credential) validate() error {
	if c.Tag == NoTag {
		return fmt.Errorf("%w: tag 0 is reserved", ErrInvalid)
	}
	if c.Params == nil {
		return fmt.Errorf("%w: credential has no parameters", ErrInvalid)
	}
	return c.Params.validate()
}

// ECDSAFromRaw 는 임베디드 환경에서 흔히 쓰는 raw 형식(32바이트 스칼라, X/Y 좌표)으로부터
// ECDSA 자격 증명을 구성합니다.
//
// pubX/pubY 가 주어지면 priv 에서 유도한 공개키와 일치하는지 검사합니다.
// clientKeys 의 각 항목은 {X, Y} 좌표 쌍입니다.
func ECDSAFromRaw(priv, pubX, pubY []byte, clientKeys [][2][]byte) (*ECDSA, error) {
	key, err := privateKeyFromScalar(priv)
	if err != nil {
		return nil, err
	}
	if len(pubX) > 0 || len(pubY) > 0 {
		want, err := PublicKeyFromRaw(pubX, pubY)
		if err != nil {
			return nil, err
		}
		if !want.Equal(&key.PublicKey) {
			return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalid)
		}
	}

	out := &ECDSA{PrivateKey: key}
	for i, ck := range clientKeys {
		pub, err := PublicKeyFromRaw(ck[0], ck[1])
		if err != nil {
			return nil, fmt.Errorf("client key %d: %w", i, err)
		}
		out.ClientKeys = append(out.ClientKeys, pub)
	}
	return out, nil
}

// PublicKeyFromRaw 는 P-256 좌표 (X, Y) 를 검증한 뒤 *ecdsa.PublicKey 로 변환합니다.
func PublicKeyFromRaw(x, y []byte) (*ecdsa.PublicKey, error) {
	if len(x) == 0 || len(x) > 32 || len(y) == 0 || len(y) > 32 {
		return nil, fmt.Errorf("%w: p-256 coordinates must be 1..32 bytes", ErrInvalid)
	}
	uncompressed := make([]byte, 65)
	uncompressed[0] = 4
	copy(uncompressed[1+32-len(x):33], x)
	copy(uncompressed[33+32-len(y):], y)

	// crypto/ecdh 가 곡선 위의 점인지 검사해 줍니다.
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(uncompressed[1:33]),
		Y:     new(big.Int).SetBytes(uncompressed[33:]),
	}, nil
}

func privateKeyFromScalar(priv []byte) (*ecdsa.PrivateKey, error) {
	if len(priv) == 0 || len(priv) > 32 {
		return nil, fmt.Errorf("%w: p-256 private scalar must be 1..32 bytes", ErrInvalid)
	}
	scalar := make([]byte, 32)
	copy(scalar[32-len(priv):], priv)

	ek, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	pub := ek.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:]),
		},
		D: new(big.Int).SetBytes(scalar),
	}, nil
}
