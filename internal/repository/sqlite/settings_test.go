package sqlite

import (
	"context"
	"testing"

	"github.com/snipsafe/snipsafe/internal/model"
)

// A fresh database has no settings row. Get must return usable defaults
// instead of an error — local auth, registration open.
func TestSettingsGet_Defaults(t *testing.T) {
	db := newTestDB(t)

	settings, err := db.Settings().Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if settings.AuthMode != model.AuthModeLocal {
		t.Errorf("AuthMode = %q, want %q", settings.AuthMode, model.AuthModeLocal)
	}
	if !settings.AllowRegistration {
		t.Error("AllowRegistration = false, want true by default")
	}
}

func TestSettingsUpdate_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Settings().Update(ctx, &model.Settings{
		AuthMode:          model.AuthModeOAuth,
		AllowRegistration: false,
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	settings, err := db.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if settings.AuthMode != model.AuthModeOAuth {
		t.Errorf("AuthMode = %q, want %q", settings.AuthMode, model.AuthModeOAuth)
	}
	if settings.AllowRegistration {
		t.Error("AllowRegistration = true, want false after update")
	}
}

// Update is insert-or-replace on the singleton row — a second write
// overwrites rather than failing on the primary key.
func TestSettingsUpdate_Twice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Settings().Update(ctx, &model.Settings{AuthMode: model.AuthModeOAuth}); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	if err := db.Settings().Update(ctx, &model.Settings{
		AuthMode:          model.AuthModeBoth,
		AllowRegistration: true,
	}); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}

	settings, err := db.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if settings.AuthMode != model.AuthModeBoth {
		t.Errorf("AuthMode = %q, want %q", settings.AuthMode, model.AuthModeBoth)
	}
}
