package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive is returned when a round is requested on a completed or failed session.
	ErrSessionNotActive = errors.New("session not active")

	// ErrRoundInFlight is returned when a round is requested while the previous one is pending.
	ErrRoundInFlight = errors.New("round in flight")

	// ErrContentTooLarge is returned when markup exceeds the merger input ceiling.
	ErrContentTooLarge = errors.New("content too large")

	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrUpstreamError    = errors.New("upstream error")
	ErrHostUnresponsive = errors.New("host unresponsive")

	ErrRecordExpired  = errors.New("record expired")
	ErrRecordNotFound = errors.New("record not found")

	ErrInvalidInput = errors.New("invalid input")

	// ErrPageMismatch is returned when a share record targets a different page identity.
	ErrPageMismatch = errors.New("page mismatch")

	// ErrKeyNotFound is returned by key-value stores for missing keys.
	ErrKeyNotFound = errors.New("key not found")
)

type errorClass struct {
	err     error
	kind    string
	message string
}

// Order matters: the first match wins for errors wrapping more than one sentinel.
var errorClasses = []errorClass{
	{ErrContentTooLarge, "content_too_large", "page is too large to edit, try a smaller page"},
	{ErrUpstreamTimeout, "upstream_timeout", "the edit service timed out, try again"},
	{ErrUpstreamError, "upstream_error", "the edit service failed, try again"},
	{ErrRoundInFlight, "round_in_flight", "still working on the previous request"},
	{ErrSessionNotActive, "session_not_active", "this session has ended, start a new one"},
	{ErrSessionNotFound, "session_not_found", "session not found, start a new one"},
	{ErrHostUnresponsive, "host_unresponsive", "the page is not responding, reload it"},
	{ErrRecordExpired, "record_expired", "this share link has expired, ask for a fresh one"},
	{ErrRecordNotFound, "record_not_found", "this share link does not exist"},
	{ErrPageMismatch, "page_mismatch", "this share link belongs to a different page"},
	{ErrKeyNotFound, "key_not_found", "nothing stored for this page"},
	{ErrInvalidInput, "invalid_input", "invalid request"},
}

// Kind returns the stable wire code of err, or "internal" for unclassified errors.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return "internal"
}

// StatusMessage returns the short lower-case message shown to users for err.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.message
		}
	}
	return "something went wrong"
}

// ErrorForKind maps a wire code back to its sentinel. Unknown kinds map to ErrUpstreamError.
func ErrorForKind(kind string) error {
	for _, c := range errorClasses {
		if c.kind == kind {
			return c.err
		}
	}
	return ErrUpstreamError
}

// ErrorBody is the wire form of a failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
