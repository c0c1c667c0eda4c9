package middleware

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/alexhamidi/anyheart/pkg/ports"
)

// envelopePrefix marks values written by the encryption middleware.
var envelopePrefix = []byte("enc1:")

// ErrNotEncrypted is returned when a stored value lacks the encryption envelope.
var ErrNotEncrypted = errors.New("value is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new values. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are retired keys still accepted on read, so snapshots
	// written before a rotation stay restorable.
	FallbackKeys [][]byte
}

// ParseKey accepts a 32-byte key as 64 hex characters or standard base64.
func ParseKey(s string) ([]byte, error) {
	if k, err := hex.DecodeString(s); err == nil && len(k) == 32 {
		return k, nil
	}
	if k, err := base64.StdEncoding.DecodeString(s); err == nil && len(k) == 32 {
		return k, nil
	}
	return nil, errors.New("encryption key must be 32 bytes, hex or base64 encoded")
}

type encryptionMiddleware struct {
	next   ports.KVStore
	active cipher.AEAD
	// readers holds the active key first, then the fallbacks in order.
	readers []cipher.AEAD
}

// NewEncryptionMiddleware seals every value with AES-GCM. Keys stay in the
// clear so prefix listing keeps working. It panics when a key is not 32 bytes.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	active := mustAEAD(config.ActiveKey, "active key")
	readers := []cipher.AEAD{active}
	for i, k := range config.FallbackKeys {
		readers = append(readers, mustAEAD(k, fmt.Sprintf("fallback key %d", i)))
	}
	return func(next ports.KVStore) ports.KVStore {
		return &encryptionMiddleware{next: next, active: active, readers: readers}
	}
}

func mustAEAD(key []byte, name string) cipher.AEAD {
	if len(key) != 32 {
		panic(name + " must be 32 bytes (AES-256)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	return gcm
}

func (m *encryptionMiddleware) Set(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, m.active.NonceSize(), m.active.NonceSize()+len(value)+m.active.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}
	sealed := m.active.Seal(nonce, nonce, value, nil)

	envelope := append([]byte(nil), envelopePrefix...)
	envelope = base64.StdEncoding.AppendEncode(envelope, sealed)
	return m.next.Set(ctx, key, envelope)
}

func (m *encryptionMiddleware) Get(ctx context.Context, key string) ([]byte, error) {
	envelope, err := m.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Once encryption is configured, plain values are rejected.
	body, ok := bytes.CutPrefix(envelope, envelopePrefix)
	if !ok {
		return nil, ErrNotEncrypted
	}
	sealed, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	for _, aead := range m.readers {
		n := aead.NonceSize()
		if len(sealed) < n {
			return nil, errors.New("failed to decrypt value: ciphertext too short")
		}
		if plain, err := aead.Open(nil, sealed[:n], sealed[n:], nil); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("failed to decrypt value: no key matches")
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *encryptionMiddleware) List(ctx context.Context, prefix string) ([]string, error) {
	return m.next.List(ctx, prefix)
}
