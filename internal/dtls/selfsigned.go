package dtls

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"
)

// NewSelfSignedCertificate 는 주어진 P-256 키쌍으로 self-signed 인증서를 만듭니다.
//
// - CN: commonName (비어 있으면 "sock-dtls")
// - 유효기간: 생성 시점 기준 1년
//
// 인증서는 키를 핸드셰이크에 실어 나르는 용도로만 쓰입니다.
// 체인 검증은 하지 않고, 피어는 공개키 pin 으로 인증합니다.
func NewSelfSignedCertificate(priv *ecdsa.PrivateKey, commonName string) (tls.Certificate, error) {
	if commonName == "" {
		commonName = "sock-dtls"
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}

	notBefore := time.Now().Add(-1 * time.Hour)
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{derBytes},
		PrivateKey:  priv,
	}, nil
}
