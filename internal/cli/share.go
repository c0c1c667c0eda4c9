package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
)

// Sharer creates and fetches shares.
type Sharer interface {
	CreateShare(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error)
	FetchShare(ctx context.Context, shareID string) (*domain.ShareRecord, error)
}

// CreateShare publishes req and prints its link.
func CreateShare(ctx context.Context, s Sharer, req domain.ShareRequest, w io.Writer) error {
	res, err := s.CreateShare(ctx, req)
	if err != nil {
		return fmt.Errorf("create share: %w", err)
	}
	printSystemMessage(w, "Share %s created, expires %s.", res.ShareID, res.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(w, res.ShareableURL)
	return nil
}

// FetchShare prints a share as JSON, or only its markup when markupOnly is set.
func FetchShare(ctx context.Context, s Sharer, id string, markupOnly bool, w io.Writer) error {
	rec, err := s.FetchShare(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch share %s: %w", id, err)
	}
	if markupOnly {
		_, err := io.WriteString(w, rec.Markup)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
