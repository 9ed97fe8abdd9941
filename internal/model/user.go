// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the coarse permission tier of a user within their organization.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a registered account.
//
// Accounts come from two places: local registration (username + password)
// and an external OAuth2 identity provider. Both end up in the same table
// with the same internal ID scheme (xid), so the rest of the system never
// cares how the user signed up.
//
// WHY PasswordHash with json:"-"?
// The bcrypt hash must never leave the server. Tagging the field json:"-"
// means encoding/json silently drops it from every API response — there is
// no code path that can accidentally serialize it.
//
// Provider/ExternalID are empty for local accounts. For OAuth accounts the
// pair (provider, external_id) is UNIQUE in the database so one upstream
// identity maps to exactly one account, and PasswordHash stays empty.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Organization string    `json:"organization"`
	Role         Role      `json:"role"`
	Provider     string    `json:"provider,omitempty"`
	ExternalID   string    `json:"-"`
	Active       bool      `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
