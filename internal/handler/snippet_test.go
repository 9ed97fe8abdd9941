package handler_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/snipsafe/snipsafe/internal/auth"
	"github.com/snipsafe/snipsafe/internal/handler"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository/sqlite"
	"github.com/snipsafe/snipsafe/internal/service"
)

// testEnv wires the handlers to real services over an in-memory database.
// Handler tests go through the full stack on purpose: what we care about
// here is the HTTP contract — status codes, JSON shapes, and which routes
// hide a 403 behind a 404.
type testEnv struct {
	snippets *handler.SnippetHandler
	auth     *handler.AuthHandler
	authSvc  *service.AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)

	ledger := service.NewSharingLedger(db.Snippets(), db.Users(), logger)
	presence := service.NewPresenceTracker(db.Snippets(), logger)
	snippetSvc := service.NewSnippetService(db.Snippets(), db.Users(), ledger, presence, logger)
	authSvc := service.NewAuthService(db.Users(), db.Settings(), tokens, passwords, "acme", logger)

	return &testEnv{
		snippets: handler.NewSnippetHandler(snippetSvc, logger),
		auth:     handler.NewAuthHandler(authSvc, nil, logger),
		authSvc:  authSvc,
	}
}

// registerUser creates an account through the service, bypassing HTTP.
func (env *testEnv) registerUser(t *testing.T, username string) *model.User {
	t.Helper()
	result, err := env.authSvc.Register(t.Context(), service.RegisterInput{
		Username: username,
		Email:    username + "@acme.test",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to register test user %s: %v", username, err)
	}
	return result.User
}

// doRequest runs one handler func against a synthetic request. Path
// parameters are injected with SetPathValue since no router is involved.
func doRequest(t *testing.T, fn http.HandlerFunc, userID, method, target string, body any, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	for key, value := range pathValues {
		req.SetPathValue(key, value)
	}

	rr := httptest.NewRecorder()
	fn(rr, req)
	return rr
}

func TestSnippetHandler_Create(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")

	t.Run("valid snippet", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleCreate, alice.ID, http.MethodPost, "/api/snippets", map[string]any{
			"title":      "hello",
			"content":    "print('hi')",
			"language":   "python",
			"visibility": "private",
			"tags":       []string{"Demo", "demo"},
		}, nil)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var detail service.SnippetDetail
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&detail))
		assert.NotEmpty(t, detail.ID)
		assert.NotEmpty(t, detail.ShareID)
		assert.Equal(t, "owner", detail.Permission)
		// Tags are normalized: lowercased and deduplicated.
		assert.Equal(t, []string{"demo"}, detail.Tags)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/snippets", bytes.NewBufferString(`{"title":`))
		req = req.WithContext(auth.WithUserID(req.Context(), alice.ID))
		rr := httptest.NewRecorder()

		env.snippets.HandleCreate(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing title", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleCreate, alice.ID, http.MethodPost, "/api/snippets", map[string]any{
			"content": "x = 1",
		}, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)

		var errRes handler.ErrorResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&errRes))
		assert.Equal(t, "validation_error", errRes.Error)
	})
}

func TestSnippetHandler_GetByID(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	bob := env.registerUser(t, "bob")
	snippet := createSnippet(t, env, alice.ID, "private")

	t.Run("owner reads own snippet", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleGetByID, alice.ID, http.MethodGet,
			"/api/snippets/"+snippet.ID, nil, map[string]string{"id": snippet.ID})

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("direct ID read of someone else's private snippet is forbidden", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleGetByID, bob.ID, http.MethodGet,
			"/api/snippets/"+snippet.ID, nil, map[string]string{"id": snippet.ID})

		// GET keeps 403 and 404 distinct — only the mutation routes hide.
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown ID", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleGetByID, alice.ID, http.MethodGet,
			"/api/snippets/nope", nil, map[string]string{"id": "nope"})

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSnippetHandler_ShareLink(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")

	t.Run("anonymous visitor reads a public snippet", func(t *testing.T) {
		snippet := createSnippet(t, env, alice.ID, "public")

		rr := doRequest(t, env.snippets.HandleGetByShareID, "", http.MethodGet,
			"/s/"+snippet.ShareID, nil, map[string]string{"shareID": snippet.ShareID})

		assert.Equal(t, http.StatusOK, rr.Code)

		var detail service.SnippetDetail
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&detail))
		// Share-link reads count views.
		assert.Equal(t, int64(1), detail.ViewCount)
	})

	t.Run("anonymous visitor cannot read a private snippet", func(t *testing.T) {
		snippet := createSnippet(t, env, alice.ID, "private")

		rr := doRequest(t, env.snippets.HandleGetByShareID, "", http.MethodGet,
			"/s/"+snippet.ShareID, nil, map[string]string{"shareID": snippet.ShareID})

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("same-org member reads a private snippet via the link", func(t *testing.T) {
		bob := env.registerUser(t, "bob")
		snippet := createSnippet(t, env, alice.ID, "private")

		rr := doRequest(t, env.snippets.HandleGetByShareID, bob.ID, http.MethodGet,
			"/s/"+snippet.ShareID, nil, map[string]string{"shareID": snippet.ShareID})

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestSnippetHandler_UpdateHidesExistence(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	bob := env.registerUser(t, "bob")
	snippet := createSnippet(t, env, alice.ID, "private")

	// Bob can't update alice's snippet — and must not learn it exists.
	// The update route answers 404, not 403.
	rr := doRequest(t, env.snippets.HandleUpdate, bob.ID, http.MethodPut,
		"/api/snippets/"+snippet.ID, map[string]any{"title": "hijacked"},
		map[string]string{"id": snippet.ID})

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var errRes handler.ErrorResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&errRes))
	assert.Equal(t, "not_found", errRes.Error)
}

func TestSnippetHandler_DeleteThenShareLink(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	snippet := createSnippet(t, env, alice.ID, "public")

	rr := doRequest(t, env.snippets.HandleDelete, alice.ID, http.MethodDelete,
		"/api/snippets/"+snippet.ID, nil, map[string]string{"id": snippet.ID})
	assert.Equal(t, http.StatusOK, rr.Code)

	// The burned share link answers 404 for everyone, owner included.
	rr = doRequest(t, env.snippets.HandleGetByShareID, alice.ID, http.MethodGet,
		"/s/"+snippet.ShareID, nil, map[string]string{"shareID": snippet.ShareID})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSnippetHandler_Share(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	bob := env.registerUser(t, "bob")
	snippet := createSnippet(t, env, alice.ID, "private")

	t.Run("grant by username and email", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleShare, alice.ID, http.MethodPost,
			"/api/snippets/"+snippet.ID+"/share", map[string]any{
				"usernames":  []string{"bob"},
				"emails":     []string{"guest@elsewhere.test"},
				"permission": "view",
			}, map[string]string{"id": snippet.ID})

		assert.Equal(t, http.StatusOK, rr.Code)

		var result service.GrantResult
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.Len(t, result.Granted, 2)
		assert.Equal(t, 2, result.TotalShared)
	})

	t.Run("grantee can now read by ID", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleGetByID, bob.ID, http.MethodGet,
			"/api/snippets/"+snippet.ID, nil, map[string]string{"id": snippet.ID})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("no targets at all", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleShare, alice.ID, http.MethodPost,
			"/api/snippets/"+snippet.ID+"/share", map[string]any{},
			map[string]string{"id": snippet.ID})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("non-owner sharing answers 404", func(t *testing.T) {
		rr := doRequest(t, env.snippets.HandleShare, bob.ID, http.MethodPost,
			"/api/snippets/"+snippet.ID+"/share", map[string]any{
				"usernames": []string{"bob"},
			}, map[string]string{"id": snippet.ID})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSnippetHandler_Viewers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	bob := env.registerUser(t, "bob")
	snippet := createSnippet(t, env, alice.ID, "organization")

	// Bob joins and shows up in the viewer list.
	rr := doRequest(t, env.snippets.HandleJoinView, bob.ID, http.MethodPost,
		"/api/snippets/"+snippet.ID+"/view", nil, map[string]string{"id": snippet.ID})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, env.snippets.HandleViewers, alice.ID, http.MethodGet,
		"/api/snippets/"+snippet.ID+"/viewers", nil, map[string]string{"id": snippet.ID})
	assert.Equal(t, http.StatusOK, rr.Code)

	var res struct {
		Viewers []model.PresenceEntry `json:"viewers"`
	}
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Len(t, res.Viewers, 1)
	assert.Equal(t, bob.ID, res.Viewers[0].UserID)

	// Leaving empties the list.
	rr = doRequest(t, env.snippets.HandleLeaveView, bob.ID, http.MethodDelete,
		"/api/snippets/"+snippet.ID+"/view", nil, map[string]string{"id": snippet.ID})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, env.snippets.HandleViewers, alice.ID, http.MethodGet,
		"/api/snippets/"+snippet.ID+"/viewers", nil, map[string]string{"id": snippet.ID})
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Len(t, res.Viewers, 0)
}

func TestSnippetHandler_ListMine(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerUser(t, "alice")
	for i := 0; i < 3; i++ {
		createSnippet(t, env, alice.ID, "private")
	}

	rr := doRequest(t, env.snippets.HandleListMine, alice.ID, http.MethodGet,
		"/api/snippets?page=1&limit=2", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var page service.Page
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)
}

// createSnippet pushes a snippet through the create handler and returns
// the decoded detail.
func createSnippet(t *testing.T, env *testEnv, ownerID, visibility string) *service.SnippetDetail {
	t.Helper()
	rr := doRequest(t, env.snippets.HandleCreate, ownerID, http.MethodPost, "/api/snippets", map[string]any{
		"title":      "example",
		"content":    "fmt.Println(42)",
		"language":   "go",
		"visibility": visibility,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("createSnippet: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var detail service.SnippetDetail
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("createSnippet: decoding response: %v", err)
	}
	return &detail
}
