package markup

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// DefaultMaxInstructionSize is 4KB.
const DefaultMaxInstructionSize = 4096

// SanitizeInstruction cleans user input by enforcing size limits,
// validating UTF-8, and stripping dangerous control characters.
// Blank instructions are rejected.
func SanitizeInstruction(input string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxInstructionSize
	}
	if len(input) > limit {
		// Reject rather than truncate so the round sees exactly what the user typed.
		return "", fmt.Errorf("%w: instruction size=%d limit=%d", domain.ErrInvalidInput, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", fmt.Errorf("%w: instruction contains invalid UTF-8", domain.ErrInvalidInput)
	}

	out := input
	if strings.IndexFunc(input, isUnsafeControl) >= 0 {
		var b strings.Builder
		b.Grow(len(input))
		for _, r := range input {
			if !isUnsafeControl(r) {
				b.WriteRune(r)
			}
		}
		out = b.String()
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: instruction is empty", domain.ErrInvalidInput)
	}
	return out, nil
}

// Newline, tab and carriage return are kept.
func isUnsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}
