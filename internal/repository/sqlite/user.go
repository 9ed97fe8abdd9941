package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/snipsafe/snipsafe/internal/apperror"
	"github.com/snipsafe/snipsafe/internal/model"
	"github.com/snipsafe/snipsafe/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

const userColumns = `id, username, email, display_name, password_hash,
	organization, role, provider, external_id, active, created_at, updated_at`

func scanUser(scan func(dest ...any) error) (*model.User, error) {
	var u model.User
	var active int
	if err := scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Organization, &u.Role, &u.Provider, &u.ExternalID, &active,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Active = active != 0
	return &u, nil
}

// Create inserts a new local user. The UNIQUE constraints on email and
// (organization, username) surface as a Conflict, which the registration
// handler maps to 409.
func (db *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Active = true
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.Organization,
		string(user.Role),
		user.Provider,
		user.ExternalID,
		1,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID.
func (db *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserBy(ctx, `id = ?`, id)
}

// GetByEmail retrieves a user by email. Emails are globally unique.
func (db *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUserBy(ctx, `email = ?`, email)
}

// GetByUsername retrieves a user by username within an organization.
// Usernames are only unique per organization.
func (db *UserStore) GetByUsername(ctx context.Context, org, username string) (*model.User, error) {
	return db.getUserBy(ctx, `organization = ? AND username = ?`, org, username)
}

func (db *UserStore) getUserBy(ctx context.Context, where string, args ...any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)

	u, err := scanUser(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", fmt.Sprint(args[len(args)-1]))
		}
		return nil, fmt.Errorf("sqlite: getting user: %w", err)
	}

	return u, nil
}

// UpsertExternal inserts or updates a user keyed on (provider,
// external_id). First login creates the account; subsequent logins refresh
// the profile fields while keeping the internal ID stable.
func (db *UserStore) UpsertExternal(ctx context.Context, user *model.User) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE provider = ? AND external_id = ?`,
		user.Provider, user.ExternalID,
	).Scan(&existingID)

	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: looking up user by external id: %w", err)
	}

	if existingID != "" {
		user.ID = existingID
		user.UpdatedAt = time.Now()
		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET email = ?, display_name = ?, updated_at = ? WHERE id = ?`,
			user.Email, user.DisplayName, user.UpdatedAt, user.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		// Re-read so the caller gets the stored username/org/role, which
		// the provider doesn't control after first login.
		stored, err := db.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		*user = *stored
		return nil
	}

	return db.Create(ctx, user)
}

// isUniqueViolation reports whether the driver error is a UNIQUE
// constraint failure. modernc.org/sqlite doesn't export a typed error for
// this, so the message is the contract.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
