package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snipsafe/snipsafe/internal/access"
	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// Validation constants. Named (not inlined) so they're easy to find,
// self-documenting, and referenceable in error messages.
const (
	MaxTitleLength   = 200
	MaxContentLength = 100000 // ~100KB of code
	MaxTagCount      = 20
	MaxTagLength     = 40
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SnippetService is the lifecycle manager: it wires the access evaluator,
// the sharing ledger, and the presence tracker into the operations exposed
// at the HTTP boundary.
//
// Every operation follows the same shape: resolve the snippet (by ID or
// share ID), ask internal/access for a verdict, and on ALLOW delegate to
// the repository / ledger / tracker. DENY verdicts pass through verbatim —
// the not_found/forbidden distinction decides whether a private snippet's
// existence is disclosed, so nothing downstream may rewrite it.
type SnippetService struct {
	snippets repository.SnippetRepository
	users    repository.UserRepository
	ledger   *SharingLedger
	presence *PresenceTracker
	logger   *slog.Logger
}

// NewSnippetService creates a SnippetService.
func NewSnippetService(
	snippets repository.SnippetRepository,
	users repository.UserRepository,
	ledger *SharingLedger,
	presence *PresenceTracker,
	logger *slog.Logger,
) *SnippetService {
	return &SnippetService{
		snippets: snippets,
		users:    users,
		ledger:   ledger,
		presence: presence,
		logger:   logger,
	}
}

// CreateInput carries the caller-settable fields for a new snippet.
type CreateInput struct {
	Title       string
	Content     string
	Language    string
	Description string
	Visibility  model.Visibility
	Tags        []string
}

// UpdateInput is the whitelist of mutable fields. Pointer fields
// distinguish "leave unchanged" (nil) from "set to this value".
type UpdateInput struct {
	Title       *string
	Content     *string
	Language    *string
	Description *string
	Visibility  *model.Visibility
	Tags        *[]string
}

// SnippetDetail is the detail projection: the snippet plus the caller's
// own standing and the live presence set.
type SnippetDetail struct {
	*model.Snippet
	OwnerName   string                `json:"ownerName"`
	Permission  string                `json:"permission"` // "owner", "edit", "view"
	SharedUsers int                   `json:"sharedUsers"`
	Viewers     []model.PresenceEntry `json:"viewers,omitempty"`
}

// Page is the pagination envelope for list and search responses.
type Page struct {
	Items []model.Snippet `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// requester resolves a userID (possibly empty) into an access.Requester
// plus the full user record. An empty userID is the anonymous requester.
func (s *SnippetService) requester(ctx context.Context, userID string) (access.Requester, *model.User, error) {
	if userID == "" {
		return access.Anonymous(), nil, nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return access.Requester{}, nil, apperror.Unauthorized("unknown user")
		}
		return access.Requester{}, nil, fmt.Errorf("resolving requester %s: %w", userID, err)
	}
	if !user.Active {
		return access.Requester{}, nil, apperror.Unauthorized("account is deactivated")
	}

	return access.Requester{
		ID:            user.ID,
		Email:         strings.ToLower(user.Email),
		Organization:  user.Organization,
		Authenticated: true,
	}, user, nil
}

// denyError converts an access decision into the matching domain error.
// The mapping is fixed: not_found → ErrNotFound, forbidden → ErrForbidden.
func denyError(d access.Decision, snippetID string) error {
	if d.Reason == access.ReasonNotFound {
		return apperror.NotFound("snippet", snippetID)
	}
	return apperror.Forbidden("you do not have access to this snippet")
}

// Create validates and saves a new snippet owned by the caller.
func (s *SnippetService) Create(ctx context.Context, ownerID string, in CreateInput) (*SnippetDetail, error) {
	owner, err := s.requireUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "snippet title is required")
	}
	if len(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("snippet title must be %d characters or less", MaxTitleLength))
	}
	if len(in.Content) > MaxContentLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d bytes or less", MaxContentLength))
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, apperror.ValidationFailed("visibility", "visibility must be private, organization, or public")
	}

	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	snippet := &model.Snippet{
		Title:        title,
		Content:      in.Content,
		Language:     strings.TrimSpace(in.Language),
		Description:  strings.TrimSpace(in.Description),
		OwnerID:      owner.ID,
		Organization: owner.Organization,
		Visibility:   visibility,
		Tags:         tags,
	}

	if err := s.snippets.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("ownerID", owner.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("ownerID", owner.ID),
		slog.String("visibility", string(snippet.Visibility)),
	)

	return &SnippetDetail{
		Snippet:    snippet,
		OwnerName:  owner.DisplayName,
		Permission: "owner",
	}, nil
}

// GetByID retrieves a snippet through the direct-by-ID path, with the
// caller's sharing standing and the pruned presence set attached.
func (s *SnippetService) GetByID(ctx context.Context, requesterID, id string) (*SnippetDetail, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpRead, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	viewers, err := s.presence.Viewers(ctx, snippet.ID)
	if err != nil {
		return nil, err
	}

	detail, err := s.detail(ctx, snippet, req)
	if err != nil {
		return nil, err
	}
	detail.Viewers = viewers
	return detail, nil
}

// GetByShareID retrieves a snippet through the share-link path. This is the
// one operation open to anonymous callers (for public snippets) and the
// intended channel for distributing private snippets within an
// organization. The view counter is bumped best-effort.
func (s *SnippetService) GetByShareID(ctx context.Context, requesterID, shareID string) (*SnippetDetail, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.snippets.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpRead, access.ByShareID); !d.Allowed {
		return nil, denyError(d, shareID)
	}

	// Best-effort: a lost increment under concurrency is acceptable, a
	// failed read is not.
	if err := s.snippets.IncrementViewCount(ctx, snippet.ID); err != nil {
		s.logger.Warn("failed to increment view count",
			slog.String("snippetID", snippet.ID),
			slog.String("error", err.Error()),
		)
	} else {
		snippet.ViewCount++
	}

	return s.detail(ctx, snippet, req)
}

// Update applies whitelisted field changes. Owners always may; a grant
// holder needs edit permission.
func (s *SnippetService) Update(ctx context.Context, requesterID, id string, in UpdateInput) (*SnippetDetail, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpUpdate, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperror.ValidationFailed("title", "snippet title is required")
		}
		if len(title) > MaxTitleLength {
			return nil, apperror.ValidationFailed("title",
				fmt.Sprintf("snippet title must be %d characters or less", MaxTitleLength))
		}
		snippet.Title = title
	}
	if in.Content != nil {
		if len(*in.Content) > MaxContentLength {
			return nil, apperror.ValidationFailed("content",
				fmt.Sprintf("content must be %d bytes or less", MaxContentLength))
		}
		snippet.Content = *in.Content
	}
	if in.Language != nil {
		snippet.Language = strings.TrimSpace(*in.Language)
	}
	if in.Description != nil {
		snippet.Description = strings.TrimSpace(*in.Description)
	}
	if in.Visibility != nil {
		if !in.Visibility.Valid() {
			return nil, apperror.ValidationFailed("visibility", "visibility must be private, organization, or public")
		}
		snippet.Visibility = *in.Visibility
	}
	if in.Tags != nil {
		tags, err := normalizeTags(*in.Tags)
		if err != nil {
			return nil, err
		}
		snippet.Tags = tags
	}

	if err := s.snippets.Update(ctx, snippet); err != nil {
		s.logger.Error("failed to update snippet",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID))

	return s.detail(ctx, snippet, req)
}

// Delete soft-deletes a snippet. The row and its share ID remain, but the
// snippet stops resolving for everyone — the former owner included.
func (s *SnippetService) Delete(ctx context.Context, requesterID, id string) error {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return err
	}

	if d := access.Decide(snippet, req, access.OpDelete, access.ByID); !d.Allowed {
		return denyError(d, id)
	}

	if err := s.snippets.SoftDelete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("snippet soft-deleted", slog.String("id", id))
	return nil
}

// Share adds grants to the snippet's ledger. Owner-only.
func (s *SnippetService) Share(ctx context.Context, requesterID, id string, in GrantRequest) (*GrantResult, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpManageSharing, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	return s.ledger.Grant(ctx, snippet, req.ID, in)
}

// Unshare revokes a single grant by its ID. Owner-only; revoking a
// non-existent grant reports not_found, never a hard error.
func (s *SnippetService) Unshare(ctx context.Context, requesterID, id, grantID string) error {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return err
	}

	if d := access.Decide(snippet, req, access.OpManageSharing, access.ByID); !d.Allowed {
		return denyError(d, id)
	}

	return s.ledger.Revoke(ctx, snippet.ID, grantID)
}

// SharingDetails lists the snippet's grants with display names resolved.
// Owner-only.
func (s *SnippetService) SharingDetails(ctx context.Context, requesterID, id string) ([]GrantView, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpManageSharing, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	return s.ledger.List(ctx, snippet.ID)
}

// JoinView registers the caller as currently viewing the snippet and
// returns the pruned presence set. Re-joining is the heartbeat.
func (s *SnippetService) JoinView(ctx context.Context, requesterID, id, sessionToken string) ([]model.PresenceEntry, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpJoinPresence, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	return s.presence.Join(ctx, snippet.ID, req.ID, sessionToken)
}

// LeaveView removes the caller's presence entry. Idempotent.
func (s *SnippetService) LeaveView(ctx context.Context, requesterID, id string) error {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return err
	}
	if d := access.Decide(snippet, req, access.OpJoinPresence, access.ByID); !d.Allowed {
		return denyError(d, id)
	}

	return s.presence.Leave(ctx, snippet.ID, req.ID)
}

// Viewers returns the snippet's pruned presence set for any caller who can
// read the snippet.
func (s *SnippetService) Viewers(ctx context.Context, requesterID, id string) ([]model.PresenceEntry, error) {
	req, _, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	snippet, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d := access.Decide(snippet, req, access.OpRead, access.ByID); !d.Allowed {
		return nil, denyError(d, id)
	}

	return s.presence.Viewers(ctx, snippet.ID)
}

// ListMine returns the caller's own active snippets.
func (s *SnippetService) ListMine(ctx context.Context, requesterID string, page, limit int) (*Page, error) {
	user, err := s.requireUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	opts, page, limit := pageOptions(page, limit)
	items, total, err := s.snippets.ListByOwner(ctx, user.ID, opts)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListOrganization returns snippets browsable at the organization tier.
func (s *SnippetService) ListOrganization(ctx context.Context, requesterID string, page, limit int) (*Page, error) {
	user, err := s.requireUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	opts, page, limit := pageOptions(page, limit)
	items, total, err := s.snippets.ListOrganization(ctx, user.Organization, user.ID, opts)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListSharedWithMe returns snippets other users have explicitly shared
// with the caller, matched against their current identity (pending email
// grants included).
func (s *SnippetService) ListSharedWithMe(ctx context.Context, requesterID string, page, limit int) (*Page, error) {
	user, err := s.requireUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	opts, page, limit := pageOptions(page, limit)
	items, total, err := s.snippets.ListSharedWith(ctx, user.ID, strings.ToLower(user.Email), opts)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Search filters snippets within the caller's organization. The repository
// applies the visibility rules as a query-time filter; the result set must
// stay identical to running the access evaluator over every record.
func (s *SnippetService) Search(ctx context.Context, requesterID string, filter repository.SearchFilter, page, limit int) (*Page, error) {
	user, err := s.requireUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	opts, page, limit := pageOptions(page, limit)
	items, total, err := s.snippets.Search(ctx, user.Organization, user.ID, strings.ToLower(user.Email), filter, opts)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Stats returns the top languages and tags across the snippets the caller
// can read inside their organization. The viewer identity is part of the
// query: aggregating over records the caller couldn't read one by one
// would leak private-snippet languages and tags.
func (s *SnippetService) Stats(ctx context.Context, requesterID string) (*repository.OrgStats, error) {
	user, err := s.requireUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	return s.snippets.Stats(ctx, user.Organization, user.ID, strings.ToLower(user.Email))
}

// loadByID fetches a snippet, translating the repository's NotFound
// unchanged. Soft-deleted rows come back with Active=false; the access
// evaluator turns those into not_found itself.
func (s *SnippetService) loadByID(ctx context.Context, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}
	return s.snippets.GetByID(ctx, id)
}

// detail builds the SnippetDetail projection: resolved owner display name
// and the caller's own permission level.
func (s *SnippetService) detail(ctx context.Context, snippet *model.Snippet, req access.Requester) (*SnippetDetail, error) {
	ownerName := ""
	if owner, err := s.users.GetByID(ctx, snippet.OwnerID); err == nil {
		ownerName = owner.DisplayName
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("resolving snippet owner %s: %w", snippet.OwnerID, err)
	}

	permission := "view"
	switch {
	case req.Authenticated && req.ID == snippet.OwnerID:
		permission = "owner"
	default:
		for _, g := range snippet.Grants {
			match := (g.UserID != "" && g.UserID == req.ID) ||
				(g.UserID == "" && g.Email != "" && g.Email == req.Email)
			if match && g.Permission == model.PermissionEdit {
				permission = "edit"
				break
			}
		}
	}

	return &SnippetDetail{
		Snippet:     snippet,
		OwnerName:   ownerName,
		Permission:  permission,
		SharedUsers: len(snippet.Grants),
	}, nil
}

// requireUser resolves a requesterID that must belong to an authenticated,
// active user. The RequireAuth middleware guarantees a non-empty ID on
// protected routes; this is the backstop.
func (s *SnippetService) requireUser(ctx context.Context, requesterID string) (*model.User, error) {
	_, user, err := s.requester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	return user, nil
}

// normalizeTags trims, lowercases, and de-duplicates tags while keeping
// first-seen order. Tag order is not meaningful, but stable output makes
// responses deterministic.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if len(t) > MaxTagLength {
			return nil, apperror.ValidationFailed("tags",
				fmt.Sprintf("tags must be %d characters or less", MaxTagLength))
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > MaxTagCount {
		return nil, apperror.ValidationFailed("tags",
			fmt.Sprintf("a snippet may have at most %d tags", MaxTagCount))
	}
	return out, nil
}

// pageOptions clamps page/limit and converts them to repository options.
func pageOptions(page, limit int) (repository.ListOptions, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return repository.ListOptions{Limit: limit, Offset: (page - 1) * limit}, page, limit
}
