package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alexhamidi/anyheart/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
)

func TestLockTable_NoLeak(t *testing.T) {
	c := NewController(memory.NewStore(), nil, nil)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_, _ = c.Status(ctx, sid)
	}

	assert.Equal(t, 0, c.locks.size(), "lock entries must be released once unused")
}

func TestLockTable_Serializes(t *testing.T) {
	c := NewController(memory.NewStore(), nil, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.withLock(ctx, "same", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, 0, c.locks.size())
}
