package credman

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeEmpty, "empty"},
		{TypePSK, "psk"},
		{TypeECDSA, "ecdsa"},
		{TypeRPK, "rpk"},
		{Type(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestRegistryAddValidation(t *testing.T) {
	r := NewRegistry(4)

	tests := []struct {
		name string
		cred Credential
	}{
		{"reserved tag", Credential{Tag: NoTag, Params: &PSK{Key: []byte("k")}}},
		{"nil params", Credential{Tag: 1}},
		{"empty psk", Credential{Tag: 1, Params: &PSK{}}},
		{"nil ecdsa key", Credential{Tag: 1, Params: &ECDSA{}}},
		{"nil rpk", Credential{Tag: 1, Params: &RPK{}}},
		{"wrong curve", Credential{Tag: 1, Params: &ECDSA{PrivateKey: func() *ecdsa.PrivateKey {
			k, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			return k
		}()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Add(tt.cred); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Add() error = %v, want ErrInvalid", err)
			}
		})
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after rejected adds, want 0", r.Len())
	}
}

func TestRegistryLookupOrdersByType(t *testing.T) {
	r := NewRegistry(0)
	key := mustKey(t)

	if err := r.Add(Credential{Tag: 10, Params: &RPK{PublicKey: &key.PublicKey}}); err != nil {
		t.Fatalf("add rpk: %v", err)
	}
	if err := r.Add(Credential{Tag: 10, Params: &ECDSA{PrivateKey: key}}); err != nil {
		t.Fatalf("add ecdsa: %v", err)
	}
	if err := r.Add(Credential{Tag: 10, Params: &PSK{Key: []byte("secretPSK")}}); err != nil {
		t.Fatalf("add psk: %v", err)
	}
	if err := r.Add(Credential{Tag: 20, Params: &PSK{Key: []byte("other")}}); err != nil {
		t.Fatalf("add psk tag 20: %v", err)
	}

	creds, err := r.Lookup(10)
	if err != nil {
		t.Fatalf("Lookup(10): %v", err)
	}
	want := []Type{TypePSK, TypeECDSA, TypeRPK}
	if len(creds) != len(want) {
		t.Fatalf("Lookup(10) returned %d credentials, want %d", len(creds), len(want))
	}
	for i, c := range creds {
		if c.Type() != want[i] {
			t.Errorf("creds[%d].Type() = %s, want %s", i, c.Type(), want[i])
		}
		if c.Tag != 10 {
			t.Errorf("creds[%d].Tag = %d, want 10", i, c.Tag)
		}
	}

	if _, err := r.Lookup(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(99) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryDuplicateAndCapacity(t *testing.T) {
	r := NewRegistry(2)

	if err := r.Add(Credential{Tag: 1, Params: &PSK{Key: []byte("a")}}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.Add(Credential{Tag: 1, Params: &PSK{Key: []byte("b")}}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate add error = %v, want ErrExists", err)
	}
	if err := r.Add(Credential{Tag: 2, Params: &PSK{Key: []byte("c")}}); err != nil {
		t.Fatalf("second add: %v", err)
	}
	if err := r.Add(Credential{Tag: 3, Params: &PSK{Key: []byte("d")}}); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("add beyond capacity error = %v, want ErrNoSpace", err)
	}
}

func TestRegistryReferenceCounting(t *testing.T) {
	r := NewRegistry(4)
	psk := &PSK{Key: []byte("secretPSK")}
	if err := r.Add(Credential{Tag: 7, Params: psk}); err != nil {
		t.Fatalf("add: %v", err)
	}

	creds, err := r.Acquire(7)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p, ok := creds[0].PSK(); !ok || p != psk {
		t.Fatalf("Acquire returned a copy or the wrong params; want the registered *PSK")
	}
	if _, err := r.Acquire(7); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := r.Refs(7); got != 2 {
		t.Fatalf("Refs(7) = %d, want 2", got)
	}

	if err := r.Delete(7, TypePSK); !errors.Is(err, ErrBusy) {
		t.Fatalf("Delete while referenced error = %v, want ErrBusy", err)
	}

	r.Release(7)
	r.Release(7)
	if got := r.Refs(7); got != 0 {
		t.Fatalf("Refs(7) after release = %d, want 0", got)
	}
	if err := r.Delete(7, TypePSK); err != nil {
		t.Fatalf("Delete after release: %v", err)
	}
	if err := r.Delete(7, TypePSK); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete error = %v, want ErrNotFound", err)
	}
	if _, err := r.Acquire(7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Acquire after delete error = %v, want ErrNotFound", err)
	}
}

func TestECDSAFromRaw(t *testing.T) {
	key := mustKey(t)
	peer := mustKey(t)

	priv := key.D.FillBytes(make([]byte, 32))
	x := key.PublicKey.X.FillBytes(make([]byte, 32))
	y := key.PublicKey.Y.FillBytes(make([]byte, 32))
	px := peer.PublicKey.X.FillBytes(make([]byte, 32))
	py := peer.PublicKey.Y.FillBytes(make([]byte, 32))

	cred, err := ECDSAFromRaw(priv, x, y, [][2][]byte{{px, py}})
	if err != nil {
		t.Fatalf("ECDSAFromRaw: %v", err)
	}
	if !cred.PrivateKey.Equal(key) {
		t.Fatal("private key mismatch")
	}
	if len(cred.ClientKeys) != 1 || !cred.ClientKeys[0].Equal(&peer.PublicKey) {
		t.Fatal("client key mismatch")
	}

	// public key belonging to another private key must be rejected
	if _, err := ECDSAFromRaw(priv, px, py, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("mismatched public key error = %v, want ErrInvalid", err)
	}
	// (1, 1) is not on P-256
	if _, err := PublicKeyFromRaw([]byte{1}, []byte{1}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("off-curve point error = %v, want ErrInvalid", err)
	}
	if _, err := ECDSAFromRaw(nil, nil, nil, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty scalar error = %v, want ErrInvalid", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	Init()
	Init()
	if Default() == nil {
		t.Fatal("Default() is nil after Init")
	}

	if err := Add(Credential{Tag: 4242, Params: &PSK{Key: []byte("x")}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	t.Cleanup(func() { _ = Delete(4242, TypePSK) })

	creds, err := Lookup(4242)
	if err != nil || len(creds) != 1 {
		t.Fatalf("Lookup = %v, %v; want one credential", creds, err)
	}
}
