package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// compile-time check that *DB implements repository.SettingsRepository
var _ repository.SettingsRepository = (*SettingsStore)(nil)

// Get returns the singleton settings row, or sane defaults when it has
// never been written. The row is fetched per request by callers — no
// process-global cached copy exists, so updates take effect immediately.
func (db *SettingsStore) Get(ctx context.Context) (*model.Settings, error) {
	var s model.Settings
	var allowReg int

	err := db.conn.QueryRowContext(ctx,
		`SELECT auth_mode, allow_registration, updated_at FROM app_settings WHERE id = 1`,
	).Scan(&s.AuthMode, &allowReg, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return &model.Settings{
			AuthMode:          model.AuthModeLocal,
			AllowRegistration: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting settings: %w", err)
	}

	s.AllowRegistration = allowReg != 0
	return &s, nil
}

// Update writes the singleton settings row (insert-or-replace on id=1).
func (db *SettingsStore) Update(ctx context.Context, settings *model.Settings) error {
	settings.UpdatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO app_settings (id, auth_mode, allow_registration, updated_at)
		 VALUES (1, ?, ?, ?)`,
		string(settings.AuthMode),
		boolToInt(settings.AllowRegistration),
		settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating settings: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
