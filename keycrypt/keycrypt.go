// Package keycrypt seals secret payloads into bundles. Admission encrypts
// against a per-order public key; only the worker holding the key
// reference can recover the plaintext. Secrets never land in the state
// store or in logs.
package keycrypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// ErrDecrypt indicates a ciphertext that does not open under the given key.
var ErrDecrypt = errors.New("decryption failed")

// KeyPair holds one curve25519 keypair, base64-encoded for transport.
type KeyPair struct {
	Public  string
	Private string
}

// GenerateKeyPair creates a fresh keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{
		Public:  base64.StdEncoding.EncodeToString(pub[:]),
		Private: base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

// Seal encrypts plaintext against a base64 public key using an anonymous
// sealed box. The sender keypair is ephemeral and discarded.
func Seal(plaintext []byte, publicKey string) ([]byte, error) {
	pub, err := decodeKey(publicKey)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return sealed, nil
}

// Open decrypts a sealed box using the recipient keypair.
func Open(ciphertext []byte, pair *KeyPair) ([]byte, error) {
	pub, err := decodeKey(pair.Public)
	if err != nil {
		return nil, err
	}
	priv, err := decodeKey(pair.Private)
	if err != nil {
		return nil, err
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, pub, priv)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func decodeKey(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("decode key: want 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
