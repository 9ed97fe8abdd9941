package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// SharingLedger maintains the per-snippet list of explicit share grants.
//
// The caller (the lifecycle manager) is responsible for authorization —
// only a snippet's owner ever reaches these methods. The ledger's own job
// is resolution and deduplication: turning raw emails and usernames into
// grants without ever creating two grants for the same person.
type SharingLedger struct {
	snippets repository.SnippetRepository
	users    repository.UserRepository
	logger   *slog.Logger
}

// NewSharingLedger creates a SharingLedger.
func NewSharingLedger(snippets repository.SnippetRepository, users repository.UserRepository, logger *slog.Logger) *SharingLedger {
	return &SharingLedger{
		snippets: snippets,
		users:    users,
		logger:   logger,
	}
}

// GrantRequest is the owner's share instruction: any mix of raw emails and
// organization-local usernames, all receiving the same permission.
type GrantRequest struct {
	Emails     []string
	Usernames  []string
	Permission model.Permission
}

// GrantView is a grant with display fields resolved at call time. For a
// pending (email-only) grant, Username and DisplayName stay empty until a
// matching user registers.
type GrantView struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId,omitempty"`
	Email       string           `json:"email"`
	Username    string           `json:"username,omitempty"`
	DisplayName string           `json:"displayName,omitempty"`
	Permission  model.Permission `json:"permission"`
	GrantedBy   string           `json:"grantedBy"`
	Pending     bool             `json:"pending"`
}

// GrantResult reports what happened to every requested target. The three
// lists always total to the full input, so the caller can show the user an
// exact account of what was processed. Duplicates and unknown usernames are
// normal outcomes here, never errors.
type GrantResult struct {
	Granted       []GrantView `json:"granted"`
	AlreadyShared []string    `json:"alreadyShared"`
	NotFound      []string    `json:"notFound"`
	TotalShared   int         `json:"totalSharedUsers"`
}

// Grant processes a share request against the snippet's current ledger.
//
// Emails resolve against the live user store; an email with no matching
// account becomes a pending grant (not a notFound — the share should start
// working when that person registers). Usernames resolve only within the
// snippet owner's organization; an unknown username IS a notFound.
//
// Dedup key: the resolved user ID when there is one, otherwise the email
// string. Granting to someone already on the ledger (or to the owner, who
// needs no grant) is absorbed into alreadyShared.
func (l *SharingLedger) Grant(ctx context.Context, snippet *model.Snippet, granterID string, req GrantRequest) (*GrantResult, error) {
	if !req.Permission.Valid() {
		return nil, apperror.ValidationFailed("permission", "permission must be 'view' or 'edit'")
	}

	existing, err := l.snippets.ListGrants(ctx, snippet.ID)
	if err != nil {
		return nil, fmt.Errorf("sharing: loading ledger for snippet %s: %w", snippet.ID, err)
	}

	// Seed the dedup set from the current ledger.
	granted := map[string]bool{}
	for _, g := range existing {
		if g.UserID != "" {
			granted["u:"+g.UserID] = true
		}
		if g.Email != "" {
			granted["e:"+strings.ToLower(g.Email)] = true
		}
	}

	result := &GrantResult{
		Granted:       []GrantView{},
		AlreadyShared: []string{},
		NotFound:      []string{},
	}
	total := len(existing)

	appendGrant := func(user *model.User, email string) error {
		grant := &model.ShareGrant{
			SnippetID:  snippet.ID,
			Email:      email,
			Permission: req.Permission,
			GrantedBy:  granterID,
		}
		view := GrantView{
			Email:      email,
			Permission: req.Permission,
			GrantedBy:  granterID,
			Pending:    user == nil,
		}
		if user != nil {
			grant.UserID = user.ID
			view.UserID = user.ID
			view.Username = user.Username
			view.DisplayName = user.DisplayName
		}
		if err := l.snippets.AddGrant(ctx, grant); err != nil {
			return err
		}
		view.ID = grant.ID
		result.Granted = append(result.Granted, view)
		total++

		granted["e:"+strings.ToLower(email)] = true
		if user != nil {
			granted["u:"+user.ID] = true
		}
		return nil
	}

	for _, raw := range req.Emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}

		user, err := l.users.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("sharing: resolving email %s: %w", email, err)
		}

		switch {
		case user != nil && user.ID == snippet.OwnerID:
			result.AlreadyShared = append(result.AlreadyShared, email)
		case user != nil && granted["u:"+user.ID]:
			result.AlreadyShared = append(result.AlreadyShared, email)
		case user == nil && granted["e:"+email]:
			result.AlreadyShared = append(result.AlreadyShared, email)
		default:
			if err := appendGrant(user, email); err != nil {
				return nil, err
			}
		}
	}

	for _, raw := range req.Usernames {
		username := strings.TrimSpace(raw)
		if username == "" {
			continue
		}

		// Username resolution is scoped to the owner's organization —
		// sharing by username never reaches across tenants.
		user, err := l.users.GetByUsername(ctx, snippet.Organization, username)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				result.NotFound = append(result.NotFound, username)
				continue
			}
			return nil, fmt.Errorf("sharing: resolving username %s: %w", username, err)
		}

		switch {
		case user.ID == snippet.OwnerID, granted["u:"+user.ID]:
			result.AlreadyShared = append(result.AlreadyShared, username)
		default:
			if err := appendGrant(user, strings.ToLower(user.Email)); err != nil {
				return nil, err
			}
		}
	}

	result.TotalShared = total

	l.logger.Info("snippet shared",
		slog.String("snippetID", snippet.ID),
		slog.String("granterID", granterID),
		slog.Int("granted", len(result.Granted)),
		slog.Int("alreadyShared", len(result.AlreadyShared)),
		slog.Int("notFound", len(result.NotFound)),
	)

	return result, nil
}

// Revoke removes a grant by its ID. A missing grant comes back as
// apperror.ErrNotFound — an idempotent outcome the handler reports as 404,
// never a hard failure.
func (l *SharingLedger) Revoke(ctx context.Context, snippetID, grantID string) error {
	if err := l.snippets.DeleteGrant(ctx, snippetID, grantID); err != nil {
		return err
	}

	l.logger.Info("share grant revoked",
		slog.String("snippetID", snippetID),
		slog.String("grantID", grantID),
	)
	return nil
}

// List returns the snippet's grants with display fields resolved against
// the user store at call time. Resolution never mutates the ledger: a
// pending grant stays email-only in storage even after it starts resolving.
func (l *SharingLedger) List(ctx context.Context, snippetID string) ([]GrantView, error) {
	grants, err := l.snippets.ListGrants(ctx, snippetID)
	if err != nil {
		return nil, err
	}

	views := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		view := GrantView{
			ID:         g.ID,
			UserID:     g.UserID,
			Email:      g.Email,
			Permission: g.Permission,
			GrantedBy:  g.GrantedBy,
			Pending:    g.UserID == "",
		}

		user, err := l.resolveGrantUser(ctx, g)
		if err != nil {
			return nil, err
		}
		if user != nil {
			view.UserID = user.ID
			view.Username = user.Username
			view.DisplayName = user.DisplayName
			view.Pending = false
		}

		views = append(views, view)
	}

	return views, nil
}

// resolveGrantUser finds the user a grant currently points at: directly by
// ID, or — for pending grants — by matching the email against the live
// user store.
func (l *SharingLedger) resolveGrantUser(ctx context.Context, g model.ShareGrant) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if g.UserID != "" {
		user, err = l.users.GetByID(ctx, g.UserID)
	} else {
		user, err = l.users.GetByEmail(ctx, g.Email)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sharing: resolving grant %s: %w", g.ID, err)
	}
	return user, nil
}
