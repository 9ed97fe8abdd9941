package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
)

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{
		Username:     "alice",
		Email:        "alice@acme.test",
		DisplayName:  "Alice",
		PasswordHash: "$2a$10$fakehash",
		Organization: "acme",
	}

	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.Role != model.RoleUser {
		t.Errorf("Role = %q, want default %q", user.Role, model.RoleUser)
	}
	if !user.Active {
		t.Error("Create() did not mark the user active")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)

	createTestUser(t, db, "alice", "alice@acme.test", "acme")

	// Same email, different username and organization — email is globally
	// unique, so this must conflict.
	dup := &model.User{Username: "alice2", Email: "alice@acme.test", Organization: "umbrella"}
	err := db.Users().Create(context.Background(), dup)

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() duplicate email error = %v, want ErrConflict", err)
	}
}

func TestUserCreate_UsernameUniquePerOrganization(t *testing.T) {
	db := newTestDB(t)

	createTestUser(t, db, "alice", "alice@acme.test", "acme")

	// Same username inside the same organization conflicts...
	sameOrg := &model.User{Username: "alice", Email: "other@acme.test", Organization: "acme"}
	if err := db.Users().Create(context.Background(), sameOrg); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() same-org duplicate username error = %v, want ErrConflict", err)
	}

	// ...but the same username in another organization is fine.
	otherOrg := &model.User{Username: "alice", Email: "alice@umbrella.test", Organization: "umbrella"}
	if err := db.Users().Create(context.Background(), otherOrg); err != nil {
		t.Errorf("Create() cross-org duplicate username error = %v, want nil", err)
	}
}

func TestUserCreate_LocalAccountsDontCollideOnProvider(t *testing.T) {
	db := newTestDB(t)

	// Both local users carry provider='' and external_id=''. The partial
	// unique index on (provider, external_id) must not treat them as the
	// same identity.
	createTestUser(t, db, "alice", "alice@acme.test", "acme")
	createTestUser(t, db, "bob", "bob@acme.test", "acme")
}

// =========================================================================
// GET TESTS
// =========================================================================

func TestUserGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "alice", "alice@acme.test", "acme")

	found, err := db.Users().GetByEmail(context.Background(), "alice@acme.test")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	if _, err := db.Users().GetByEmail(context.Background(), "nobody@acme.test"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByEmail() unknown error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByUsername_OrgScoped(t *testing.T) {
	db := newTestDB(t)
	acmeAlice := createTestUser(t, db, "alice", "alice@acme.test", "acme")
	umbrellaAlice := createTestUser(t, db, "alice", "alice@umbrella.test", "umbrella")

	found, err := db.Users().GetByUsername(context.Background(), "acme", "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if found.ID != acmeAlice.ID {
		t.Errorf("GetByUsername(acme, alice) = %q, want %q (got the other org's alice: %v)",
			found.ID, acmeAlice.ID, found.ID == umbrellaAlice.ID)
	}

	if _, err := db.Users().GetByUsername(context.Background(), "umbrella", "bob"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByUsername() unknown error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// EXTERNAL IDENTITY TESTS
// =========================================================================

func TestUpsertExternal_FirstLoginCreates(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{
		Username:     "carol",
		Email:        "carol@idp.test",
		DisplayName:  "Carol",
		Organization: "acme",
		Provider:     "oauth",
		ExternalID:   "ext-123",
	}
	if err := db.Users().UpsertExternal(context.Background(), user); err != nil {
		t.Fatalf("UpsertExternal() error = %v", err)
	}
	if user.ID == "" {
		t.Error("UpsertExternal() did not set user.ID on first login")
	}
}

func TestUpsertExternal_RepeatLoginKeepsID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.User{
		Username: "carol", Email: "carol@idp.test", DisplayName: "Carol",
		Organization: "acme", Provider: "oauth", ExternalID: "ext-123",
	}
	if err := db.Users().UpsertExternal(ctx, first); err != nil {
		t.Fatalf("UpsertExternal() first login error = %v", err)
	}

	// Second login: the provider reports a new email and display name.
	// The internal ID must stay stable and the profile fields refresh.
	second := &model.User{
		Username: "carol-renamed", Email: "carol.new@idp.test", DisplayName: "Carol N",
		Organization: "other", Provider: "oauth", ExternalID: "ext-123",
	}
	if err := db.Users().UpsertExternal(ctx, second); err != nil {
		t.Fatalf("UpsertExternal() repeat login error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("repeat login ID = %q, want stable %q", second.ID, first.ID)
	}
	if second.Email != "carol.new@idp.test" {
		t.Errorf("Email = %q, want refreshed", second.Email)
	}
	// Username and organization are ours after first login — the provider
	// doesn't get to rewrite them.
	if second.Username != "carol" {
		t.Errorf("Username = %q, want %q", second.Username, "carol")
	}
	if second.Organization != "acme" {
		t.Errorf("Organization = %q, want %q", second.Organization, "acme")
	}
}
