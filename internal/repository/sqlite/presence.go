package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/snipsafe/snipsafe/internal/model"
)

// UpsertPresence replaces the viewer's entry and prunes expired entries in
// a single transaction, then returns the surviving set.
//
// INSERT OR REPLACE rides on the (snippet_id, user_id) primary key: a
// re-join overwrites the viewer's previous entry rather than accumulating a
// duplicate. The prune runs in the same transaction so two concurrent joins
// converge to one row per live viewer.
func (db *SnippetStore) UpsertPresence(ctx context.Context, entry *model.PresenceEntry, staleBefore time.Time) ([]model.PresenceEntry, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: starting presence transaction: %w", err)
	}
	defer tx.Rollback()

	// <= because staleBefore marks the last instant already outside the
	// staleness window: an entry exactly window-old is expired.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM presence_entries WHERE snippet_id = ? AND last_seen <= ?`,
		entry.SnippetID, staleBefore,
	); err != nil {
		return nil, fmt.Errorf("sqlite: pruning presence for snippet %s: %w", entry.SnippetID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO presence_entries (snippet_id, user_id, session_token, last_seen)
		 VALUES (?, ?, ?, ?)`,
		entry.SnippetID, entry.UserID, entry.SessionToken, entry.LastSeen,
	); err != nil {
		return nil, fmt.Errorf("sqlite: upserting presence for snippet %s: %w", entry.SnippetID, err)
	}

	entries, err := listPresenceTx(ctx, tx, entry.SnippetID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing presence transaction: %w", err)
	}

	return entries, nil
}

// DeletePresence removes the viewer's entry unconditionally. Absence is not
// an error — leave is idempotent.
func (db *SnippetStore) DeletePresence(ctx context.Context, snippetID, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM presence_entries WHERE snippet_id = ? AND user_id = ?`,
		snippetID, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting presence for snippet %s: %w", snippetID, err)
	}
	return nil
}

// ListPresence prunes expired entries, then returns the rest. Pruning on
// read is what makes "currently viewing" authoritative without a
// background sweeper.
func (db *SnippetStore) ListPresence(ctx context.Context, snippetID string, staleBefore time.Time) ([]model.PresenceEntry, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: starting presence transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM presence_entries WHERE snippet_id = ? AND last_seen <= ?`,
		snippetID, staleBefore,
	); err != nil {
		return nil, fmt.Errorf("sqlite: pruning presence for snippet %s: %w", snippetID, err)
	}

	entries, err := listPresenceTx(ctx, tx, snippetID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing presence transaction: %w", err)
	}

	return entries, nil
}

func listPresenceTx(ctx context.Context, tx *sql.Tx, snippetID string) ([]model.PresenceEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT snippet_id, user_id, session_token, last_seen
		 FROM presence_entries WHERE snippet_id = ? ORDER BY last_seen DESC`,
		snippetID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing presence for snippet %s: %w", snippetID, err)
	}
	defer rows.Close()

	entries := []model.PresenceEntry{}
	for rows.Next() {
		var e model.PresenceEntry
		if err := rows.Scan(&e.SnippetID, &e.UserID, &e.SessionToken, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: scanning presence row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating presence entries: %w", err)
	}

	return entries, nil
}
