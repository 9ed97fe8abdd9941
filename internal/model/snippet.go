// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Visibility is the snippet-level access tier.
//
// The three tiers form a ladder:
//   - private: only the owner, explicit share grants, and (via the share
//     link ONLY) authenticated members of the same organization
//   - organization: any authenticated member of the owning organization
//   - public: anyone, including anonymous visitors with the share link
type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityOrganization Visibility = "organization"
	VisibilityPublic       Visibility = "public"
)

// Valid reports whether v is one of the three known visibility tiers.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityOrganization, VisibilityPublic:
		return true
	}
	return false
}

// Permission is the access level carried by a share grant.
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// Valid reports whether p is a known grant permission.
func (p Permission) Valid() bool {
	return p == PermissionView || p == PermissionEdit
}

// Snippet represents a saved code snippet.
//
// The `json:"..."` tags tell Go's encoding/json package how to serialize
// this struct to/from JSON — metadata attached to fields ("struct tags").
//
// Two identifiers on purpose:
//   - ID is the primary key, used on authenticated API routes
//   - ShareID is a random, unguessable UUID used for link-based
//     distribution. It is generated once at creation, never changes, and is
//     never reused — even after the snippet is soft-deleted.
//
// Active is the soft-delete marker. A soft-deleted snippet keeps its row
// (so ShareID stays burned forever) but is invisible to every caller,
// including its former owner.
type Snippet struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	Language     string     `json:"language"`
	Description  string     `json:"description,omitempty"`
	OwnerID      string     `json:"ownerId"`
	Organization string     `json:"organization"`
	ShareID      string     `json:"shareId"`
	Visibility   Visibility `json:"visibility"`
	Tags         []string   `json:"tags"`
	ViewCount    int64      `json:"viewCount"`
	Active       bool       `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	// Share grants, hydrated by the repository on detail reads. They have
	// no lifecycle of their own — the snippet owns them.
	Grants []ShareGrant `json:"-"`
}

// ShareGrant is an explicit per-user permission layered on top of the
// snippet's visibility.
//
// UserID is empty for a "pending" grant: the owner shared with an email
// address that doesn't belong to a registered user yet. Pending grants are
// matched against the live user store at read time, so they start working
// the moment a user registers with that email — no upgrade step needed.
type ShareGrant struct {
	ID         string     `json:"id"`
	SnippetID  string     `json:"snippetId"`
	UserID     string     `json:"userId,omitempty"`
	Email      string     `json:"email"`
	Permission Permission `json:"permission"`
	GrantedBy  string     `json:"grantedBy"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// PresenceEntry is an ephemeral record of a viewer currently looking at a
// snippet. At most one entry per viewer per snippet — re-joining replaces
// the previous entry. An entry last seen a full staleness window ago (or
// longer) is expired and must never appear in a "currently viewing" result.
type PresenceEntry struct {
	SnippetID    string    `json:"snippetId"`
	UserID       string    `json:"userId"`
	SessionToken string    `json:"-"`
	LastSeen     time.Time `json:"lastSeen"`
}
