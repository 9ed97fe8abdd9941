package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// Compile-time check that *DB implements repository.SnippetRepository.
// If a method goes missing, the compiler errors here instead of at some
// distant call site.
var _ repository.SnippetRepository = (*SnippetStore)(nil)

// shareIDAttempts bounds the collision retry loop on snippet creation.
// UUIDv4 collisions are vanishingly unlikely; the loop exists so a
// collision is an automatic retry instead of a 500.
const shareIDAttempts = 3

const snippetColumns = `id, title, content, language, description, owner_id,
	organization, share_id, visibility, tags, view_count, active,
	created_at, updated_at`

// encodeTags serializes the tag set as a JSON array for the TEXT column.
// JSON (rather than a comma join) keeps tags with commas intact and lets
// the stats query unroll them with SQLite's json_each.
func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

// scanSnippet reads one row into a model.Snippet. The scan order must match
// snippetColumns.
func scanSnippet(scan func(dest ...any) error) (*model.Snippet, error) {
	var s model.Snippet
	var tagsRaw string
	var active int
	if err := scan(
		&s.ID, &s.Title, &s.Content, &s.Language, &s.Description, &s.OwnerID,
		&s.Organization, &s.ShareID, &s.Visibility, &tagsRaw, &s.ViewCount,
		&active, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Active = active != 0

	tags, err := decodeTags(tagsRaw)
	if err != nil {
		return nil, err
	}
	s.Tags = tags
	return &s, nil
}

// Create inserts a new snippet, generating its ID and share ID.
//
// The share ID is a random UUIDv4. The UNIQUE constraint on share_id is the
// collision detector: if the insert trips it we generate a fresh UUID and
// try again, a bounded number of times.
func (db *SnippetStore) Create(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()

	now := time.Now()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	snippet.Active = true

	tagsRaw, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	for attempt := 0; attempt < shareIDAttempts; attempt++ {
		snippet.ShareID = uuid.NewString()

		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO snippets (`+snippetColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snippet.ID,
			snippet.Title,
			snippet.Content,
			snippet.Language,
			snippet.Description,
			snippet.OwnerID,
			snippet.Organization,
			snippet.ShareID,
			string(snippet.Visibility),
			tagsRaw,
			snippet.ViewCount,
			1,
			snippet.CreatedAt,
			snippet.UpdatedAt,
		)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "UNIQUE constraint failed: snippets.share_id") {
			return fmt.Errorf("sqlite: creating snippet: %w", err)
		}
	}

	return fmt.Errorf("sqlite: creating snippet: share id collisions exhausted retries: %w", err)
}

// GetByID retrieves a snippet by its primary ID, with grants hydrated.
//
// Soft-deleted snippets ARE returned (with Active=false): the access
// evaluator needs the row to decide "not found" itself, and this keeps the
// repository out of the access-decision business.
func (db *SnippetStore) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	return db.getSnippetBy(ctx, "id", id)
}

// GetByShareID retrieves a snippet by its share link identifier.
func (db *SnippetStore) GetByShareID(ctx context.Context, shareID string) (*model.Snippet, error) {
	return db.getSnippetBy(ctx, "share_id", shareID)
}

func (db *SnippetStore) getSnippetBy(ctx context.Context, column, value string) (*model.Snippet, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE `+column+` = ?`, value)

	s, err := scanSnippet(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("snippet", value)
		}
		return nil, fmt.Errorf("sqlite: getting snippet by %s %s: %w", column, value, err)
	}

	grants, err := db.ListGrants(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Grants = grants

	return s, nil
}

// Update persists the mutable snippet fields. ID, owner, organization,
// share ID, view count, and creation time never change here.
func (db *SnippetStore) Update(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = time.Now()

	tagsRaw, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, content = ?, language = ?, description = ?,
		     visibility = ?, tags = ?, updated_at = ?
		 WHERE id = ? AND active = 1`,
		snippet.Title,
		snippet.Content,
		snippet.Language,
		snippet.Description,
		string(snippet.Visibility),
		tagsRaw,
		snippet.UpdatedAt,
		snippet.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", snippet.ID)
	}

	return nil
}

// SoftDelete flips the active flag. The row — and its share_id — stays.
func (db *SnippetStore) SoftDelete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets SET active = 0, updated_at = ? WHERE id = ? AND active = 1`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: soft-deleting snippet %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", id)
	}

	return nil
}

// IncrementViewCount bumps the view counter as a single atomic UPDATE.
// Best-effort by contract: under concurrent share-link reads the counter
// converges, exact-once is not promised and not needed.
func (db *SnippetStore) IncrementViewCount(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE snippets SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing view count for %s: %w", id, err)
	}
	return nil
}

// listQuery runs a paginated SELECT plus the matching COUNT using the same
// WHERE clause, so totals always agree with the page contents.
func (db *SnippetStore) listQuery(ctx context.Context, where string, args []any, opts repository.ListOptions) ([]model.Snippet, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snippets WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting snippets: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE `+where+`
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing snippets: %w", err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0, limit)
	for rows.Next() {
		s, err := scanSnippet(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}

	return snippets, total, nil
}

// ListByOwner returns the owner's active snippets, newest first.
func (db *SnippetStore) ListByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	return db.listQuery(ctx, `active = 1 AND owner_id = ?`, []any{ownerID}, opts)
}

// ListOrganization returns active snippets the viewer can browse at the
// organization tier: org-visible, public, or their own.
func (db *SnippetStore) ListOrganization(ctx context.Context, org, viewerID string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	where := `active = 1 AND organization = ?
		AND (visibility IN ('organization', 'public') OR owner_id = ?)`
	return db.listQuery(ctx, where, []any{org, viewerID}, opts)
}

// grantExistsClause matches snippets carrying a grant for the viewer —
// either resolved by user ID or pending by email. Takes two args:
// userID, email.
const grantExistsClause = `EXISTS (
	SELECT 1 FROM share_grants g
	WHERE g.snippet_id = snippets.id
	  AND (g.user_id = ? OR (g.user_id = '' AND g.email != '' AND g.email = ?))
)`

// ListSharedWith returns active snippets explicitly shared with the user,
// excluding their own. Pending email grants are matched against the user's
// current email — share first, register later works.
func (db *SnippetStore) ListSharedWith(ctx context.Context, userID, email string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	where := `active = 1 AND owner_id != ? AND ` + grantExistsClause
	return db.listQuery(ctx, where, []any{userID, userID, email}, opts)
}

// Search filters active snippets within the organization, restricted to
// what the viewer could read per the access rules: public, org-visible,
// owned, or granted. Must stay equivalent to evaluating the access rules
// per record.
func (db *SnippetStore) Search(ctx context.Context, org, viewerID, viewerEmail string, filter repository.SearchFilter, opts repository.ListOptions) ([]model.Snippet, int, error) {
	where := `active = 1 AND organization = ?
		AND (visibility IN ('organization', 'public') OR owner_id = ? OR ` + grantExistsClause + `)`
	args := []any{org, viewerID, viewerID, viewerEmail}

	if q := strings.TrimSpace(filter.Query); q != "" {
		where += ` AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(q) + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Language != "" {
		where += ` AND language = ?`
		args = append(args, filter.Language)
	}
	for _, tag := range filter.Tags {
		if tag == "" {
			continue
		}
		where += ` AND EXISTS (SELECT 1 FROM json_each(snippets.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}
	if filter.Author != "" {
		where += ` AND owner_id IN (SELECT id FROM users WHERE organization = ? AND username = ?)`
		args = append(args, org, filter.Author)
	}

	return db.listQuery(ctx, where, args, opts)
}

// escapeLike escapes LIKE metacharacters in user-supplied search text.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Stats computes the top languages and tags by count across the
// organization's active snippets the viewer can read — the same
// restriction Search applies, so a private snippet never contributes its
// language or tags to someone else's aggregates. Tags are unrolled from
// their JSON arrays with SQLite's json_each.
func (db *SnippetStore) Stats(ctx context.Context, org, viewerID, viewerEmail string) (*repository.OrgStats, error) {
	stats := &repository.OrgStats{
		Languages: []repository.LanguageCount{},
		Tags:      []repository.TagCount{},
	}

	// Shared between both queries. Columns are qualified because the tag
	// query joins json_each into the FROM clause.
	visible := `snippets.active = 1 AND snippets.organization = ?
		AND (snippets.visibility IN ('organization', 'public')
		     OR snippets.owner_id = ? OR ` + grantExistsClause + `)`
	args := []any{org, viewerID, viewerID, viewerEmail}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT snippets.language, COUNT(*) AS n FROM snippets
		 WHERE `+visible+` AND snippets.language != ''
		 GROUP BY snippets.language ORDER BY n DESC, snippets.language ASC LIMIT 10`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: computing language stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc repository.LanguageCount
		if err := rows.Scan(&lc.Language, &lc.Count); err != nil {
			return nil, fmt.Errorf("sqlite: scanning language stat: %w", err)
		}
		stats.Languages = append(stats.Languages, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating language stats: %w", err)
	}

	tagRows, err := db.conn.QueryContext(ctx,
		`SELECT json_each.value, COUNT(*) AS n
		 FROM snippets, json_each(snippets.tags)
		 WHERE `+visible+`
		 GROUP BY json_each.value ORDER BY n DESC, json_each.value ASC LIMIT 10`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: computing tag stats: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var tc repository.TagCount
		if err := tagRows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("sqlite: scanning tag stat: %w", err)
		}
		stats.Tags = append(stats.Tags, tc)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating tag stats: %w", err)
	}

	return stats, nil
}
