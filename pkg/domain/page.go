package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PageSnapshot is the cached markup of one page identity.
type PageSnapshot struct {
	Key        string    `json:"key"`
	Markup     string    `json:"markup"`
	Title      string    `json:"title,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Role identifies the author of a ConversationEntry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationEntry is one line of the client-local conversation.
type ConversationEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionPointer is the client-local record linking a page identity to a backend session.
type SessionPointer struct {
	SessionID string              `json:"session_id"`
	History   []ConversationEntry `json:"history"`
	Timestamp time.Time           `json:"timestamp"`
}

// PersistableHistory drops system entries, which are presentation-only.
func PersistableHistory(entries []ConversationEntry) []ConversationEntry {
	out := make([]ConversationEntry, 0, len(entries))
	for _, e := range entries {
		if e.Role == RoleSystem {
			continue
		}
		out = append(out, e)
	}
	return out
}

// NormalizePageKey reduces a URL to its page identity: origin plus path.
// Query string and fragment are discarded, the host is lower-cased and a
// trailing slash is trimmed so "/a/" and "/a" share a key.
func NormalizePageKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Host == "" {
		// Scheme-less inputs such as "example.com/page".
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: url %q has no host", ErrInvalidInput, rawURL)
		}
	}
	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme + "://" + strings.ToLower(u.Host) + path, nil
}

// SamePage reports whether two URLs share origin and path.
func SamePage(a, b string) bool {
	ka, err := NormalizePageKey(a)
	if err != nil {
		return false
	}
	kb, err := NormalizePageKey(b)
	if err != nil {
		return false
	}
	return ka == kb
}
