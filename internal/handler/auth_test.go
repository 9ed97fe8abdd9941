package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snipsafe/snipsafe/internal/handler"
	"github.com/snipsafe/snipsafe/internal/model"
)

func TestAuthHandler_Register(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid registration", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleRegister, "", http.MethodPost, "/api/auth/register", map[string]any{
			"username": "alice",
			"email":    "Alice@Acme.Test",
			"password": "correct-horse-battery",
		}, nil)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var user model.User
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
		assert.NotEmpty(t, user.ID)
		// Emails are normalized to lowercase on the way in.
		assert.Equal(t, "alice@acme.test", user.Email)

		// Registration logs the user in: the JWT cookie is set.
		cookies := rr.Result().Cookies()
		var found bool
		for _, c := range cookies {
			if c.Name == "token" && c.Value != "" {
				found = true
				assert.True(t, c.HttpOnly)
			}
		}
		assert.True(t, found, "expected a token cookie on the response")
	})

	t.Run("duplicate email", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleRegister, "", http.MethodPost, "/api/auth/register", map[string]any{
			"username": "alice2",
			"email":    "alice@acme.test",
			"password": "correct-horse-battery",
		}, nil)

		assert.Equal(t, http.StatusConflict, rr.Code)

		var errRes handler.ErrorResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&errRes))
		assert.Equal(t, "conflict", errRes.Error)
	})

	t.Run("short password", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleRegister, "", http.MethodPost, "/api/auth/register", map[string]any{
			"username": "bob",
			"email":    "bob@acme.test",
			"password": "short",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "alice")

	t.Run("login by username", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleLogin, "", http.MethodPost, "/api/auth/login", map[string]any{
			"username": "alice",
			"password": "correct-horse-battery",
		}, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("login by email", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleLogin, "", http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "alice@acme.test",
			"password": "correct-horse-battery",
		}, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleLogin, "", http.MethodPost, "/api/auth/login", map[string]any{
			"username": "alice",
			"password": "wrong-password-entirely",
		}, nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown user gets the same answer as a wrong password", func(t *testing.T) {
		rr := doRequest(t, env.auth.HandleLogin, "", http.MethodPost, "/api/auth/login", map[string]any{
			"username": "nobody",
			"password": "correct-horse-battery",
		}, nil)

		// 401 either way — the response must not reveal which part failed.
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAuthHandler_Me(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")

	rr := doRequest(t, env.auth.HandleMe, alice.ID, http.MethodGet, "/api/auth/me", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)

	var user model.User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "alice", user.Username)
}

func TestAuthHandler_Settings(t *testing.T) {
	env := newTestEnv(t)

	rr := doRequest(t, env.auth.HandleSettings, "", http.MethodGet, "/api/auth/settings", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)

	var res struct {
		AuthMode          model.AuthMode `json:"authMode"`
		AllowRegistration bool           `json:"allowRegistration"`
		LocalEnabled      bool           `json:"localEnabled"`
		OAuthEnabled      bool           `json:"oauthEnabled"`
	}
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, model.AuthModeLocal, res.AuthMode)
	assert.True(t, res.AllowRegistration)
	assert.True(t, res.LocalEnabled)
	// No provider is wired in the test env, so the probe reports OAuth off.
	assert.False(t, res.OAuthEnabled)
}
