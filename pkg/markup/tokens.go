package markup

import (
	"fmt"
	"sync"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenCeiling bounds the processed markup sent to the merger.
const DefaultTokenCeiling = 120_000

// Counter counts tokens with the cl100k_base encoding.
// When the encoding cannot be loaded it falls back to a rough estimate of
// one token per four bytes.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter returns a lazily initialized Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Estimate is the deterministic fallback used when no encoding is available.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if c == nil {
		return Estimate(text)
	}
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
	if c.err != nil || c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CheckBudget fails with domain.ErrContentTooLarge when text exceeds ceiling tokens.
// A ceiling of zero or less disables the check.
func (c *Counter) CheckBudget(text string, ceiling int) error {
	if ceiling <= 0 {
		return nil
	}
	// Each token covers at least one byte, so short inputs skip encoding.
	if len(text) <= ceiling {
		return nil
	}
	if n := c.Count(text); n > ceiling {
		return fmt.Errorf("%w: %d tokens, ceiling is %d", domain.ErrContentTooLarge, n, ceiling)
	}
	return nil
}
