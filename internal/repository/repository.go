// Package repository defines the persistence interfaces the service layer
// programs against. The sqlite subpackage provides the concrete
// implementation; tests substitute in-memory mocks.
package repository

import (
	"context"
	"time"

	"github.com/snipsafe/snipsafe/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// SearchFilter narrows a search within the requester's organization. Empty
// fields are ignored. Query matches title, description, and content;
// Author matches the owner's username.
type SearchFilter struct {
	Query    string
	Language string
	Tags     []string
	Author   string
}

// LanguageCount and TagCount are the stats projections: how many active
// snippets in an organization use each language / tag.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

type OrgStats struct {
	Languages []LanguageCount `json:"languages"`
	Tags      []TagCount      `json:"tags"`
}

// SnippetRepository persists snippets together with their child share
// grants and presence entries. Reads return snippets with Grants hydrated
// (access decisions need them); presence is loaded through the dedicated
// presence methods because it is pruned on read.
//
// Soft-deleted snippets are invisible to every query here EXCEPT GetByID /
// GetByShareID, which return them with Active=false so the access evaluator
// can produce its not_found verdict — the repository does not make access
// decisions.
type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	GetByShareID(ctx context.Context, shareID string) (*model.Snippet, error)
	Update(ctx context.Context, snippet *model.Snippet) error
	SoftDelete(ctx context.Context, id string) error
	IncrementViewCount(ctx context.Context, id string) error

	ListByOwner(ctx context.Context, ownerID string, opts ListOptions) ([]model.Snippet, int, error)
	// ListOrganization returns active snippets visible to viewerID inside
	// org at the organization tier or above (visibility organization or
	// public, or owned by the viewer).
	ListOrganization(ctx context.Context, org, viewerID string, opts ListOptions) ([]model.Snippet, int, error)
	// ListSharedWith returns active snippets carrying a grant for the given
	// user ID or (pending grants) email, excluding the user's own.
	ListSharedWith(ctx context.Context, userID, email string, opts ListOptions) ([]model.Snippet, int, error)
	// Search applies filter within org using the same visibility rules the
	// access evaluator would apply per record: public, organization, owned
	// by viewer, or granted to viewer.
	Search(ctx context.Context, org, viewerID, viewerEmail string, filter SearchFilter, opts ListOptions) ([]model.Snippet, int, error)
	// Stats aggregates top languages and tags over the same record set a
	// Search with no filters would return for this viewer — never over
	// snippets the viewer could not read.
	Stats(ctx context.Context, org, viewerID, viewerEmail string) (*OrgStats, error)

	AddGrant(ctx context.Context, grant *model.ShareGrant) error
	DeleteGrant(ctx context.Context, snippetID, grantID string) error
	ListGrants(ctx context.Context, snippetID string) ([]model.ShareGrant, error)

	// UpsertPresence replaces the viewer's entry and prunes entries older
	// than staleBefore, atomically, then returns the surviving set.
	UpsertPresence(ctx context.Context, entry *model.PresenceEntry, staleBefore time.Time) ([]model.PresenceEntry, error)
	DeletePresence(ctx context.Context, snippetID, userID string) error
	// ListPresence prunes entries older than staleBefore and returns the rest.
	ListPresence(ctx context.Context, snippetID string, staleBefore time.Time) ([]model.PresenceEntry, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByUsername is organization-scoped: usernames are only unique
	// within an organization.
	GetByUsername(ctx context.Context, org, username string) (*model.User, error)
	// UpsertExternal inserts or updates a user keyed on (provider,
	// external_id), preserving the internal ID across logins.
	UpsertExternal(ctx context.Context, user *model.User) error
}

// SettingsRepository reads and writes the singleton configuration record.
// Get returns defaults when the row has never been written.
type SettingsRepository interface {
	Get(ctx context.Context) (*model.Settings, error)
	Update(ctx context.Context, settings *model.Settings) error
}
