package dtls

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/dalbodeule/sock-dtls/internal/logging"
)

// peerVerifier 는 피어 인증서 크기 제한과 공개키 pin 을 검사합니다.
// pins 가 비어 있으면 크기만 검사하고 모든 키를 허용합니다.
type peerVerifier struct {
	maxSize int
	pins    []*ecdsa.PublicKey
	logger  logging.Logger
	onFail  func(error)
}

func (v *peerVerifier) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	err := v.check(rawCerts)
	if err != nil && v.onFail != nil {
		v.onFail(err)
	}
	return err
}

func (v *peerVerifier) check(rawCerts [][]byte) error {
	total := 0
	for _, c := range rawCerts {
		total += len(c)
	}
	if v.maxSize > 0 && total > v.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrPeerCredentialTooLarge, total, v.maxSize)
	}
	if len(v.pins) == 0 {
		return nil
	}
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate presented", ErrPeerKeyMismatch)
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse peer certificate: %w", err)
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: peer key is %T", ErrPeerKeyMismatch, leaf.PublicKey)
	}
	for _, pin := range v.pins {
		if pin.Equal(pub) {
			return nil
		}
	}
	if v.logger != nil {
		v.logger.Warn("peer public key not pinned", logging.Fields{
			"peer_key_masked": fingerprint(pub),
		})
	}
	return fmt.Errorf("%w: %s", ErrPeerKeyMismatch, fingerprint(pub))
}

// fingerprint 는 공개키의 SHA-256 지문을 로그용으로 줄여서 반환합니다.
func fingerprint(pub *ecdsa.PublicKey) string {
	k, err := pub.ECDH()
	if err != nil {
		return "***"
	}
	sum := sha256.Sum256(k.Bytes())
	return maskKey(hex.EncodeToString(sum[:]))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
