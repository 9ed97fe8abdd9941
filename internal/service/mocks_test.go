package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// Hand-written in-memory fakes for the repository interfaces. The service
// doesn't know or care whether it gets these or the real sqlite.DB — that
// is the point of programming against the interfaces.

type memSnippetRepo struct {
	snippets map[string]*model.Snippet
	grants   map[string][]model.ShareGrant
	// presence is keyed snippetID → userID, mirroring the composite
	// primary key in the real store.
	presence map[string]map[string]model.PresenceEntry
	nextID   int
}

var _ repository.SnippetRepository = (*memSnippetRepo)(nil)

func newMemSnippetRepo() *memSnippetRepo {
	return &memSnippetRepo{
		snippets: map[string]*model.Snippet{},
		grants:   map[string][]model.ShareGrant{},
		presence: map[string]map[string]model.PresenceEntry{},
	}
}

func (m *memSnippetRepo) Create(_ context.Context, s *model.Snippet) error {
	m.nextID++
	s.ID = fmt.Sprintf("snip-%d", m.nextID)
	s.ShareID = fmt.Sprintf("share-%d", m.nextID)
	s.Active = true
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	stored := *s
	m.snippets[s.ID] = &stored
	return nil
}

func (m *memSnippetRepo) get(id string) (*model.Snippet, bool) {
	s, ok := m.snippets[id]
	if !ok {
		return nil, false
	}
	out := *s
	out.Grants = append([]model.ShareGrant(nil), m.grants[s.ID]...)
	return &out, true
}

func (m *memSnippetRepo) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	s, ok := m.get(id)
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	return s, nil
}

func (m *memSnippetRepo) GetByShareID(_ context.Context, shareID string) (*model.Snippet, error) {
	for id, s := range m.snippets {
		if s.ShareID == shareID {
			out, _ := m.get(id)
			return out, nil
		}
	}
	return nil, apperror.NotFound("snippet", shareID)
}

func (m *memSnippetRepo) Update(_ context.Context, s *model.Snippet) error {
	existing, ok := m.snippets[s.ID]
	if !ok || !existing.Active {
		return apperror.NotFound("snippet", s.ID)
	}
	stored := *s
	stored.UpdatedAt = time.Now()
	m.snippets[s.ID] = &stored
	return nil
}

func (m *memSnippetRepo) SoftDelete(_ context.Context, id string) error {
	s, ok := m.snippets[id]
	if !ok || !s.Active {
		return apperror.NotFound("snippet", id)
	}
	s.Active = false
	return nil
}

func (m *memSnippetRepo) IncrementViewCount(_ context.Context, id string) error {
	s, ok := m.snippets[id]
	if !ok {
		return apperror.NotFound("snippet", id)
	}
	s.ViewCount++
	return nil
}

func (m *memSnippetRepo) ListByOwner(_ context.Context, ownerID string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	return m.filter(opts, func(s *model.Snippet) bool {
		return s.OwnerID == ownerID
	})
}

func (m *memSnippetRepo) ListOrganization(_ context.Context, org, viewerID string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	return m.filter(opts, func(s *model.Snippet) bool {
		if s.Organization != org {
			return false
		}
		return s.Visibility != model.VisibilityPrivate || s.OwnerID == viewerID
	})
}

func (m *memSnippetRepo) ListSharedWith(_ context.Context, userID, email string, opts repository.ListOptions) ([]model.Snippet, int, error) {
	return m.filter(opts, func(s *model.Snippet) bool {
		if s.OwnerID == userID {
			return false
		}
		for _, g := range m.grants[s.ID] {
			if (g.UserID != "" && g.UserID == userID) ||
				(g.UserID == "" && g.Email == email) {
				return true
			}
		}
		return false
	})
}

// visibleTo mirrors the query-time visibility restriction Search and Stats
// share: public or organization tier, owned by the viewer, or granted to
// the viewer (by ID or pending email).
func (m *memSnippetRepo) visibleTo(s *model.Snippet, viewerID, viewerEmail string) bool {
	if s.Visibility != model.VisibilityPrivate || s.OwnerID == viewerID {
		return true
	}
	for _, g := range m.grants[s.ID] {
		if (g.UserID != "" && g.UserID == viewerID) ||
			(g.UserID == "" && g.Email == viewerEmail) {
			return true
		}
	}
	return false
}

func (m *memSnippetRepo) Search(_ context.Context, org, viewerID, viewerEmail string, filter repository.SearchFilter, opts repository.ListOptions) ([]model.Snippet, int, error) {
	q := strings.ToLower(filter.Query)
	return m.filter(opts, func(s *model.Snippet) bool {
		if s.Organization != org {
			return false
		}
		if !m.visibleTo(s, viewerID, viewerEmail) {
			return false
		}
		if q != "" && !strings.Contains(strings.ToLower(s.Title), q) &&
			!strings.Contains(strings.ToLower(s.Content), q) &&
			!strings.Contains(strings.ToLower(s.Description), q) {
			return false
		}
		if filter.Language != "" && s.Language != filter.Language {
			return false
		}
		for _, want := range filter.Tags {
			found := false
			for _, tag := range s.Tags {
				if tag == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	})
}

func (m *memSnippetRepo) Stats(_ context.Context, org, viewerID, viewerEmail string) (*repository.OrgStats, error) {
	langs := map[string]int64{}
	tags := map[string]int64{}
	for _, s := range m.snippets {
		if !s.Active || s.Organization != org || !m.visibleTo(s, viewerID, viewerEmail) {
			continue
		}
		if s.Language != "" {
			langs[s.Language]++
		}
		for _, t := range s.Tags {
			tags[t]++
		}
	}
	stats := &repository.OrgStats{Languages: []repository.LanguageCount{}, Tags: []repository.TagCount{}}
	for l, c := range langs {
		stats.Languages = append(stats.Languages, repository.LanguageCount{Language: l, Count: c})
	}
	for t, c := range tags {
		stats.Tags = append(stats.Tags, repository.TagCount{Tag: t, Count: c})
	}
	sort.Slice(stats.Languages, func(i, j int) bool { return stats.Languages[i].Count > stats.Languages[j].Count })
	sort.Slice(stats.Tags, func(i, j int) bool { return stats.Tags[i].Count > stats.Tags[j].Count })
	return stats, nil
}

func (m *memSnippetRepo) filter(opts repository.ListOptions, keep func(*model.Snippet) bool) ([]model.Snippet, int, error) {
	var all []model.Snippet
	for _, s := range m.snippets {
		if s.Active && keep(s) {
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if opts.Offset >= len(all) {
		return []model.Snippet{}, total, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

func (m *memSnippetRepo) AddGrant(_ context.Context, g *model.ShareGrant) error {
	m.nextID++
	g.ID = fmt.Sprintf("grant-%d", m.nextID)
	g.CreatedAt = time.Now()
	m.grants[g.SnippetID] = append(m.grants[g.SnippetID], *g)
	return nil
}

func (m *memSnippetRepo) DeleteGrant(_ context.Context, snippetID, grantID string) error {
	grants := m.grants[snippetID]
	for i, g := range grants {
		if g.ID == grantID {
			m.grants[snippetID] = append(grants[:i], grants[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("share grant", grantID)
}

func (m *memSnippetRepo) ListGrants(_ context.Context, snippetID string) ([]model.ShareGrant, error) {
	return append([]model.ShareGrant(nil), m.grants[snippetID]...), nil
}

func (m *memSnippetRepo) UpsertPresence(_ context.Context, entry *model.PresenceEntry, staleBefore time.Time) ([]model.PresenceEntry, error) {
	set, ok := m.presence[entry.SnippetID]
	if !ok {
		set = map[string]model.PresenceEntry{}
		m.presence[entry.SnippetID] = set
	}
	for uid, e := range set {
		if !e.LastSeen.After(staleBefore) {
			delete(set, uid)
		}
	}
	set[entry.UserID] = *entry
	return m.presenceList(entry.SnippetID), nil
}

func (m *memSnippetRepo) DeletePresence(_ context.Context, snippetID, userID string) error {
	delete(m.presence[snippetID], userID)
	return nil
}

func (m *memSnippetRepo) ListPresence(_ context.Context, snippetID string, staleBefore time.Time) ([]model.PresenceEntry, error) {
	// Expiry is inclusive at the boundary, matching the SQL prune: an entry
	// last seen exactly one staleness window ago is already gone.
	for uid, e := range m.presence[snippetID] {
		if !e.LastSeen.After(staleBefore) {
			delete(m.presence[snippetID], uid)
		}
	}
	return m.presenceList(snippetID), nil
}

func (m *memSnippetRepo) presenceList(snippetID string) []model.PresenceEntry {
	out := make([]model.PresenceEntry, 0, len(m.presence[snippetID]))
	for _, e := range m.presence[snippetID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

type memUserRepo struct {
	users  map[string]*model.User
	nextID int
}

var _ repository.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.User{}}
}

func (m *memUserRepo) Create(_ context.Context, u *model.User) error {
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperror.Conflict("user", u.Email)
		}
		if existing.Organization == u.Organization && existing.Username == u.Username {
			return apperror.Conflict("user", u.Username)
		}
	}
	if u.ID == "" {
		m.nextID++
		u.ID = fmt.Sprintf("user-%d", m.nextID)
	}
	u.Active = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	m.users[u.ID] = &stored
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (m *memUserRepo) GetByUsername(_ context.Context, org, username string) (*model.User, error) {
	for _, u := range m.users {
		if u.Organization == org && u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (m *memUserRepo) UpsertExternal(_ context.Context, u *model.User) error {
	for _, existing := range m.users {
		if existing.Provider == u.Provider && existing.ExternalID == u.ExternalID {
			existing.Email = u.Email
			existing.DisplayName = u.DisplayName
			existing.UpdatedAt = time.Now()
			*u = *existing
			return nil
		}
	}
	return m.Create(context.Background(), u)
}

type memSettingsRepo struct {
	settings model.Settings
}

var _ repository.SettingsRepository = (*memSettingsRepo)(nil)

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{settings: model.Settings{
		AuthMode:          model.AuthModeLocal,
		AllowRegistration: true,
	}}
}

func (m *memSettingsRepo) Get(_ context.Context) (*model.Settings, error) {
	out := m.settings
	return &out, nil
}

func (m *memSettingsRepo) Update(_ context.Context, s *model.Settings) error {
	m.settings = *s
	m.settings.UpdatedAt = time.Now()
	return nil
}

// === Test environment ===

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	snippets *memSnippetRepo
	users    *memUserRepo
	ledger   *SharingLedger
	presence *PresenceTracker
	svc      *SnippetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	snippets := newMemSnippetRepo()
	users := newMemUserRepo()
	ledger := NewSharingLedger(snippets, users, logger)
	presence := NewPresenceTracker(snippets, logger)
	return &testEnv{
		snippets: snippets,
		users:    users,
		ledger:   ledger,
		presence: presence,
		svc:      NewSnippetService(snippets, users, ledger, presence, logger),
	}
}

// addUser registers a user directly in the fake store.
func (e *testEnv) addUser(t *testing.T, username, email, org string) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		Email:        strings.ToLower(email),
		DisplayName:  username,
		Organization: org,
		Role:         model.RoleUser,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return u
}

// addSnippet creates a snippet through the service, so it goes through the
// same validation production traffic does.
func (e *testEnv) addSnippet(t *testing.T, ownerID string, visibility model.Visibility) *model.Snippet {
	t.Helper()
	detail, err := e.svc.Create(context.Background(), ownerID, CreateInput{
		Title:      "example",
		Content:    "fmt.Println(42)",
		Language:   "go",
		Visibility: visibility,
	})
	if err != nil {
		t.Fatalf("creating test snippet: %v", err)
	}
	return detail.Snippet
}
