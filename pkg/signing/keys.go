// Package signing provides the keys and attestations that make exported
// audit evidence tamper evident outside the process that produced it.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider abstracts the signing backend so the in-memory keys can be
// swapped for an HSM or KMS.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider holds a generated Ed25519 keypair in memory.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// DeriveKeyProvider derives a purpose-specific keypair from a root secret
// using HKDF-SHA256, so one configured secret can serve several isolated
// signing purposes deterministically.
func DeriveKeyProvider(rootSecret []byte, purpose string) (*MemoryKeyProvider, error) {
	if len(rootSecret) == 0 {
		return nil, errors.New("empty root secret")
	}
	if purpose == "" {
		return nil, errors.New("empty purpose")
	}

	hkdfReader := hkdf.New(sha256.New, rootSecret, []byte("loom-signing-kdf"), []byte(purpose))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdfReader, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

// Verify checks an Ed25519 signature against the provider's public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}
