package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
)

// AddGrant appends a share grant to a snippet's ledger.
//
// Deduplication lives in the service layer (it has to resolve emails
// against the user store first); the repository just writes the row.
func (db *SnippetStore) AddGrant(ctx context.Context, grant *model.ShareGrant) error {
	grant.ID = xid.New().String()
	grant.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO share_grants (id, snippet_id, user_id, email, permission, granted_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.SnippetID,
		grant.UserID,
		grant.Email,
		string(grant.Permission),
		grant.GrantedBy,
		grant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding grant to snippet %s: %w", grant.SnippetID, err)
	}

	return nil
}

// DeleteGrant removes a grant by its ID, scoped to the snippet so a grant
// ID from another snippet can't be revoked through the wrong route.
// A missing grant is NotFound, not a hard failure.
func (db *SnippetStore) DeleteGrant(ctx context.Context, snippetID, grantID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM share_grants WHERE id = ? AND snippet_id = ?`,
		grantID, snippetID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting grant %s: %w", grantID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("grant", grantID)
	}

	return nil
}

// ListGrants returns a snippet's grants in grant order (oldest first).
func (db *SnippetStore) ListGrants(ctx context.Context, snippetID string) ([]model.ShareGrant, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, snippet_id, user_id, email, permission, granted_by, created_at
		 FROM share_grants WHERE snippet_id = ? ORDER BY created_at ASC, id ASC`,
		snippetID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing grants for snippet %s: %w", snippetID, err)
	}
	defer rows.Close()

	grants := []model.ShareGrant{}
	for rows.Next() {
		var g model.ShareGrant
		if err := rows.Scan(
			&g.ID, &g.SnippetID, &g.UserID, &g.Email, &g.Permission,
			&g.GrantedBy, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning grant row: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating grants: %w", err)
	}

	return grants, nil
}
