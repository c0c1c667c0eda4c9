package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// KV implements ports.KVStore in memory.
type KV struct {
	data map[string][]byte
	mu   sync.RWMutex

	// writes counts Set calls, used by tests to observe debouncing.
	writes int
}

// NewKV creates an empty KV.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = append([]byte(nil), value...)
	k.writes++
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

func (k *KV) List(ctx context.Context, prefix string) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var keys []string
	for key := range k.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes returns how many Set calls reached the store.
func (k *KV) Writes() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.writes
}
