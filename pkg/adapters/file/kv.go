package file

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// KV implements ports.KVStore with one file per key.
// Keys are base64url encoded so URLs are safe file names.
type KV struct {
	BasePath string
}

// NewKV creates a KV rooted at basePath, defaulting to ".anyheart/storage".
func NewKV(basePath string) *KV {
	if basePath == "" {
		basePath = filepath.Join(".anyheart", "storage")
	}
	return &KV{BasePath: basePath}
}

const kvExt = ".kv"

func (k *KV) path(key string) string {
	return filepath.Join(k.BasePath, base64.RawURLEncoding.EncodeToString([]byte(key))+kvExt)
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(k.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return data, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	return writeAtomic(k.path(key), value)
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := os.Remove(k.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (k *KV) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(k.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, kvExt) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, kvExt))
		if err != nil {
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
