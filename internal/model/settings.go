package model

import "time"

// AuthMode controls which sign-in paths the server offers.
type AuthMode string

const (
	AuthModeLocal AuthMode = "local" // username/password only
	AuthModeOAuth AuthMode = "oauth" // external provider only
	AuthModeBoth  AuthMode = "both"  // either path
)

// Settings is the singleton application configuration record.
//
// It lives as a single database row, never as a process-global variable.
// Handlers that need it fetch it per request, so an admin updating the
// registration toggle takes effect immediately — there is no cached copy
// anywhere to invalidate.
type Settings struct {
	AuthMode          AuthMode  `json:"authMode"`
	AllowRegistration bool      `json:"allowRegistration"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// AllowsLocal reports whether username/password authentication is enabled.
func (s Settings) AllowsLocal() bool {
	return s.AuthMode == AuthModeLocal || s.AuthMode == AuthModeBoth
}

// AllowsOAuth reports whether the external identity provider is enabled.
func (s Settings) AllowsOAuth() bool {
	return s.AuthMode == AuthModeOAuth || s.AuthMode == AuthModeBoth
}
