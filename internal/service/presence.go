// Package service contains the business logic layer of the application.
//
// The layering follows the usual three-tier split:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, authorizes, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services accept plain values and context.Context — never *http.Request —
// and return domain errors from internal/apperror, never HTTP status codes.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// StalenessWindow is how long a presence entry counts as "currently
// viewing" after its last heartbeat. Clients should re-join well under
// this — around a tenth of it — to ride out network jitter.
const StalenessWindow = 5 * time.Minute

// PresenceTracker maintains the ephemeral "currently viewing" set per
// snippet.
//
// There is no background sweeper: pruning happens lazily on every join and
// list. An expired entry can therefore sit in storage until the next access
// touches that snippet — accepted trade-off for not running a scheduler.
// Viewers() is the authoritative read.
type PresenceTracker struct {
	repo   repository.SnippetRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewPresenceTracker creates a PresenceTracker.
func NewPresenceTracker(repo repository.SnippetRepository, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Join records the viewer as currently viewing the snippet and returns the
// pruned presence set.
//
// Join doubles as the heartbeat: re-joining replaces the viewer's previous
// entry with a fresh last-seen timestamp. A viewer never holds more than
// one entry per snippet.
func (t *PresenceTracker) Join(ctx context.Context, snippetID, viewerID, sessionToken string) ([]model.PresenceEntry, error) {
	now := t.now()
	entry := &model.PresenceEntry{
		SnippetID:    snippetID,
		UserID:       viewerID,
		SessionToken: sessionToken,
		LastSeen:     now,
	}

	entries, err := t.repo.UpsertPresence(ctx, entry, now.Add(-StalenessWindow))
	if err != nil {
		t.logger.Error("failed to join presence",
			slog.String("snippetID", snippetID),
			slog.String("viewerID", viewerID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return entries, nil
}

// Leave removes the viewer's entry. Idempotent — leaving a snippet you
// never joined is not an error.
func (t *PresenceTracker) Leave(ctx context.Context, snippetID, viewerID string) error {
	if err := t.repo.DeletePresence(ctx, snippetID, viewerID); err != nil {
		t.logger.Error("failed to leave presence",
			slog.String("snippetID", snippetID),
			slog.String("viewerID", viewerID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Viewers prunes expired entries and returns the rest. "Currently viewing"
// is defined purely by recency: now - lastSeen < StalenessWindow.
func (t *PresenceTracker) Viewers(ctx context.Context, snippetID string) ([]model.PresenceEntry, error) {
	return t.repo.ListPresence(ctx, snippetID, t.now().Add(-StalenessWindow))
}
