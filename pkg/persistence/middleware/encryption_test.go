package middleware_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/persistence/middleware"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunKVStoreContract(t, mw(memory.NewKV()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewKV()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secure := mw(underlying)

	ctx := context.Background()
	key := "snapshot:https://example.com/"
	secret := []byte("<html>my-secret-sauce</html>")

	if err := secure.Set(ctx, key, secret); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stored, err := underlying.Get(ctx, key)
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if bytes.Contains(stored, []byte("my-secret-sauce")) {
		t.Fatalf("Expected value to be hidden, found: %s", stored)
	}
	if !bytes.HasPrefix(stored, []byte("enc1:")) {
		t.Fatal("Expected encryption envelope")
	}

	loaded, err := secure.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get via middleware failed: %v", err)
	}
	if !bytes.Equal(loaded, secret) {
		t.Errorf("Expected %q, got %q", secret, loaded)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewKV()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	if err := secureOld.Set(ctx, "k", []byte("encrypted-with-old-key")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	secureNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	loaded, err := secureNew.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get with rotated key failed: %v", err)
	}
	if string(loaded) != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	if err := secureNew.Set(ctx, "k", []byte("encrypted-with-new-key")); err != nil {
		t.Fatalf("Set with new key failed: %v", err)
	}
	if _, err := secureOld.Get(ctx, "k"); err == nil {
		t.Error("Expected failure when reading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainValues(t *testing.T) {
	underlying := memory.NewKV()
	ctx := context.Background()
	_ = underlying.Set(ctx, "k", []byte("plain"))

	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	if _, err := secure.Get(ctx, "k"); !errors.Is(err, middleware.ErrNotEncrypted) {
		t.Errorf("Expected ErrNotEncrypted, got %v", err)
	}
	if _, err := secure.Get(ctx, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}

func TestParseKey(t *testing.T) {
	k := generateKey(t)
	got, err := middleware.ParseKey(hex.EncodeToString(k))
	if err != nil || !bytes.Equal(got, k) {
		t.Fatalf("hex key not parsed: %v", err)
	}
	if _, err := middleware.ParseKey("too-short"); err == nil {
		t.Error("Expected error for short key")
	}
}
