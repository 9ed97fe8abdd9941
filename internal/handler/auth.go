package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"
	"github.com/snipsafe/snipsafe/internal/auth"
	"github.com/snipsafe/snipsafe/internal/service"
)

// AuthHandler manages local login/registration, the external OAuth flow,
// and session management.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister      → create a local account, issue JWT
//   - HandleLogin         → verify credentials, issue JWT
//   - HandleOAuthLogin    → redirect the browser to the provider's consent page
//   - HandleOAuthCallback → receive the code, exchange it for a user, issue JWT
//   - HandleLogout        → clear the JWT cookie
//   - HandleMe            → return the currently logged-in user's profile
//   - HandleSettings      → tell the frontend which sign-in paths are open
//
// Both sign-in paths converge on the same AuthResult from the service, so
// the cookie is set identically either way.
type AuthHandler struct {
	svc      *service.AuthService
	provider *auth.Provider // nil when no OAuth provider is configured
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. provider may be nil; the OAuth
// routes then answer 404 via the router, and the settings probe reports
// the provider as unavailable.
func NewAuthHandler(svc *service.AuthService, provider *auth.Provider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, provider: provider, logger: logger}
}

// registerRequest is the JSON body for POST /api/auth/register.
type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// HandleRegister creates a local account and logs the user in.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	result, err := h.svc.Register(r.Context(), service.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, result.User)
}

// loginRequest accepts the identifier under either key so the frontend
// can offer a single "username or email" field.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin verifies local credentials and issues the session cookie.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid JSON body"})
		return
	}

	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	result, err := h.svc.Login(r.Context(), identifier, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookie(w, result.Token)
	writeJSON(w, http.StatusOK, result.User)
}

// HandleOAuthLogin redirects the user to the identity provider's
// authorization page.
//
// HTTP: GET /api/auth/oauth/login
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When the provider calls back, HandleOAuthCallback verifies the state
// matches. This proves the callback was initiated by this server, not a
// CSRF attacker.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the OAuth login flow.
//
// HTTP: GET /api/auth/oauth/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the provider's user profile
//  3. Upsert the user and issue a JWT (service)
//  4. Store the JWT in an HttpOnly cookie, redirect to the app
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch",
			slog.String("expected", stateCookie.Value),
			slog.String("got", r.URL.Query().Get("state")),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Clear the state cookie — it's single-use
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// The provider reports user-denied authorization via an error param.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	extUser, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: code exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	result, err := h.svc.LoginOrRegisterExternal(r.Context(), "oauth", extUser)
	if err != nil {
		h.logger.Error("auth callback: external login failed",
			slog.String("subject", extUser.Subject),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.logger.Info("user authenticated",
		slog.String("userID", result.User.ID),
		slog.String("username", result.User.Username),
	)

	setAuthCookie(w, result.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the JWT cookie, effectively logging the user out.
//
// HTTP: POST /api/auth/logout
//
// Since we're stateless (JWT), "logout" just means deleting the
// client-side cookie. The token remains technically valid until it
// expires, but without the cookie the browser can't send it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/auth/me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Should never happen on a RequireAuth-protected route, but be safe.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	user, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleMe: user lookup failed", slog.String("userID", userID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleSettings tells the frontend which sign-in paths are open before
// it renders the login screen. Unauthenticated — this is the first call
// the app makes.
//
// HTTP: GET /api/auth/settings
func (h *AuthHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authMode":          cfg.AuthMode,
		"allowRegistration": cfg.AllowRegistration,
		"localEnabled":      cfg.AllowsLocal(),
		"oauthEnabled":      cfg.AllowsOAuth() && h.provider != nil,
	})
}

// setAuthCookie stores the JWT as an HttpOnly session cookie.
// HttpOnly = JavaScript cannot read this cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
// Secure should be true in production (HTTPS only); false for local dev.
func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int((15 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
