package openai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

type decisionJSON struct {
	Edits     string `json:"edits"`
	Reasoning string `json:"reasoning"`
}

var (
	doubleEscapedQuote = regexp.MustCompile(`\\\\"`)
	jsonString         = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	invalidEscape      = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
)

// ParseDecision reads the interpreter reply. Models often wrap the JSON in a
// code fence or over-escape it, so a strict parse is followed by a repair pass.
func ParseDecision(text string) (ports.Decision, error) {
	raw := stripFences(text)

	d, err := decode(raw)
	if err != nil {
		repaired := repair(raw)
		var rerr error
		if d, rerr = decode(repaired); rerr != nil {
			return ports.Decision{}, fmt.Errorf("%w: reply is not valid JSON: %v", domain.ErrUpstreamError, err)
		}
	}
	if strings.TrimSpace(d.Edits) == "" && strings.TrimSpace(d.Reasoning) == "" {
		return ports.Decision{}, fmt.Errorf("%w: reply has neither edits nor reasoning", domain.ErrUpstreamError)
	}
	return ports.Decision{Message: d.Reasoning, Edits: d.Edits}, nil
}

func decode(s string) (decisionJSON, error) {
	var d decisionJSON
	err := json.Unmarshal([]byte(s), &d)
	return d, err
}

func repair(s string) string {
	s = firstObject(s)
	s = doubleEscapedQuote.ReplaceAllString(s, `\"`)
	return jsonString.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		return `"` + invalidEscape.ReplaceAllString(inner, "$1") + `"`
	})
}

// firstObject cuts s down to its first balanced top-level JSON object.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{<") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
