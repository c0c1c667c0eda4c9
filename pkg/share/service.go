// Package share creates and serves immutable, expiring share links of modified pages.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alexhamidi/anyheart/internal/idgen"
	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// DefaultTTLDays is the lifetime of a share when the request names none.
	DefaultTTLDays = 30
	// LinkParam is the query parameter carrying the share id on the shareable URL.
	LinkParam = "aid"
	// MaxTitleLength caps sanitized titles and descriptions.
	MaxTitleLength = 512
)

// Metrics receives share measurements.
type Metrics interface {
	ShareCreated()
	ShareViewed(outcome string)
}

// Service implements the share operations over a RecordStore.
type Service struct {
	store    ports.RecordStore
	policy   *bluemonday.Policy
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
	idLength int
	ttlDays  int
	maxRetry int
}

// Option configures the Service.
type Option func(*Service)

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records share creations and views.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultTTL sets the lifetime used when a request names none.
func WithDefaultTTL(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.ttlDays = days
		}
	}
}

// WithIDLength sets the length of generated share ids.
func WithIDLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.idLength = n
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store ports.RecordStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policy:   bluemonday.StrictPolicy(),
		logger:   logging.NewNop(),
		now:      time.Now,
		idLength: idgen.DefaultShareIDLength,
		ttlDays:  DefaultTTLDays,
		maxRetry: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new record and returns its id and shareable URL.
func (s *Service) Create(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error) {
	if strings.TrimSpace(req.HTML) == "" {
		return nil, fmt.Errorf("%w: markup is empty", domain.ErrInvalidInput)
	}
	origin, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("%w: url %q is not absolute", domain.ErrInvalidInput, req.URL)
	}

	days := s.ttlDays
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: expires_in_days must not be negative", domain.ErrInvalidInput)
	}

	now := s.now()
	record := &domain.ShareRecord{
		OriginalURL: origin.String(),
		Markup:      req.HTML,
		Title:       s.plain(req.Title),
		Description: s.plain(req.Description),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(days) * 24 * time.Hour),
	}

	// Ids are random; a collision only retries.
	for attempt := 0; ; attempt++ {
		record.ID = idgen.NanoID(s.idLength)
		err = s.store.Put(ctx, record)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrInvalidInput) || attempt >= s.maxRetry {
			return nil, fmt.Errorf("failed to store share: %w", err)
		}
	}

	if s.metrics != nil {
		s.metrics.ShareCreated()
	}
	s.logger.Info("Share created", "share_id", record.ID, "expires_at", record.ExpiresAt)

	return &domain.ShareResult{
		ShareID:      record.ID,
		ShareableURL: Link(origin, record.ID),
		Message:      "share link created",
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

// Fetch returns a live record and counts the view.
func (s *Service) Fetch(ctx context.Context, id string) (*domain.ShareRecord, error) {
	if !idgen.IsShareID(id, s.idLength) {
		s.observe("not_found")
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			s.observe("not_found")
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to load share: %w", err)
	}
	if record.Expired(s.now()) {
		s.observe("expired")
		return nil, fmt.Errorf("%w: %s expired at %s", domain.ErrRecordExpired, id, record.ExpiresAt.Format(time.RFC3339))
	}

	if err := s.store.IncrementViews(ctx, id); err != nil {
		s.logger.Warn("Failed to count share view", "share_id", id, "err", err)
	}
	s.observe("ok")
	return record, nil
}

// Purge tombstones every record expired now.
func (s *Service) Purge(ctx context.Context) (int, error) {
	n, err := s.store.Purge(ctx, s.now())
	if err != nil {
		return n, fmt.Errorf("failed to purge shares: %w", err)
	}
	if n > 0 {
		s.logger.Info("Expired shares purged", "count", n)
	}
	return n, nil
}

// VerifyTarget rejects a record whose origin and path differ from pageURL.
func VerifyTarget(record *domain.ShareRecord, pageURL string) error {
	if record == nil {
		return fmt.Errorf("%w: no record", domain.ErrInvalidInput)
	}
	if !domain.SamePage(record.OriginalURL, pageURL) {
		return fmt.Errorf("%w: share %s targets %s", domain.ErrPageMismatch, record.ID, record.OriginalURL)
	}
	return nil
}

// Link returns the shareable URL: the original URL carrying the share id.
func Link(origin *url.URL, id string) string {
	u := *origin
	q := u.Query()
	q.Set(LinkParam, id)
	u.RawQuery = q.Encode()
	return u.String()
}

// IDFromLink extracts the share id from a shareable URL.
func IDFromLink(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	id := u.Query().Get(LinkParam)
	return id, id != ""
}

func (s *Service) plain(text string) string {
	text = strings.TrimSpace(s.policy.Sanitize(text))
	if len(text) > MaxTitleLength {
		text = strings.ToValidUTF8(text[:MaxTitleLength], "")
	}
	return text
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ShareViewed(outcome)
	}
}
