// Package service — authentication business logic.
//
// AuthService sits between the HTTP handlers and the repositories/auth
// utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT) ↘ PasswordService (bcrypt)
//
// Two sign-in paths land here: local registration/login and the external
// OAuth2 provider callback. Both produce the same AuthResult, so handlers
// set the session cookie identically either way. Which paths are open is
// governed by the singleton settings record, fetched fresh on every call —
// flipping the registration toggle takes effect on the next request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/auth"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// AuthService handles the authentication business logic.
type AuthService struct {
	users      repository.UserRepository
	settings   repository.SettingsRepository
	tokens     *auth.TokenService
	passwords  *auth.PasswordService
	defaultOrg string
	logger     *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// defaultOrg is the organization assigned to locally registered users.
func NewAuthService(
	users repository.UserRepository,
	settings repository.SettingsRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	defaultOrg string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		settings:   settings,
		tokens:     tokens,
		passwords:  passwords,
		defaultOrg: defaultOrg,
		logger:     logger,
	}
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput carries a local registration request.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// Register creates a local account, honoring the settings record's auth
// mode and registration toggle.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading settings: %w", err)
	}
	if !cfg.AllowsLocal() {
		return nil, apperror.Forbidden("local authentication is disabled")
	}
	if !cfg.AllowRegistration {
		return nil, apperror.Forbidden("registration is disabled")
	}

	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email is required")
	}
	if len(in.Password) < 8 {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Organization: s.defaultOrg,
		Role:         model.RoleUser,
	}

	// The repository surfaces duplicate username/email as a Conflict.
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.issue(user)
}

// Login authenticates a local account by username (within the default
// organization) or email.
//
// All failure modes — unknown user, wrong password, deactivated account —
// collapse into the same Unauthorized error so a caller can't probe which
// usernames exist.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading settings: %w", err)
	}
	if !cfg.AllowsLocal() {
		return nil, apperror.Forbidden("local authentication is disabled")
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperror.Unauthorized("invalid credentials")
	}

	var user *model.User
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.GetByUsername(ctx, s.defaultOrg, identifier)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.Active || user.PasswordHash == "" {
		return nil, apperror.Unauthorized("invalid credentials")
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("invalid credentials")
	}

	s.logger.Info("user logged in",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.issue(user)
}

// LoginOrRegisterExternal handles the OAuth2 callback: upsert the user
// keyed on the provider identity, then issue a token. First login creates
// the account; later logins refresh profile fields.
func (s *AuthService) LoginOrRegisterExternal(ctx context.Context, provider string, extUser *auth.ExternalUser) (*AuthResult, error) {
	if extUser == nil {
		return nil, fmt.Errorf("service/auth: external user must not be nil")
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading settings: %w", err)
	}
	if !cfg.AllowsOAuth() {
		return nil, apperror.Forbidden("external authentication is disabled")
	}

	username := extUser.Login
	if username == "" {
		username = extUser.Subject
	}
	displayName := extUser.Name
	if displayName == "" {
		displayName = username
	}

	user := &model.User{
		Username:     username,
		Email:        strings.ToLower(extUser.Email),
		DisplayName:  displayName,
		Organization: s.defaultOrg,
		Provider:     provider,
		ExternalID:   extUser.Subject,
		Role:         model.RoleUser,
	}

	if err := s.users.UpsertExternal(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting external user: %w", err)
	}
	if !user.Active {
		return nil, apperror.Unauthorized("account is deactivated")
	}

	s.logger.Info("user authenticated via external provider",
		slog.String("userID", user.ID),
		slog.String("provider", provider),
	)

	return s.issue(user)
}

// GetUserByID returns the user for the given internal ID. Used by the
// /api/auth/me handler after the middleware validates the JWT.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Settings returns the current singleton settings record.
func (s *AuthService) Settings(ctx context.Context) (*model.Settings, error) {
	return s.settings.Get(ctx)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}
