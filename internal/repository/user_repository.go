package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/eventapp/internal/database"
	"github.com/iliyamo/eventapp/internal/rbac"
)

// User mirrors the 'users' table joined with the name of its global role.
type User struct {
	ID                int64
	FirstName         string
	LastName          string
	Email             string
	PasswordHash      string
	RoleID            int64
	RoleName          string
	ProfilePictureKey *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewUser holds the fields supplied at registration.
type NewUser struct {
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
}

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `u.id, u.first_name, u.last_name, u.email, u.password_hash, u.role_id, r.name,
       u.profile_picture_key, u.created_at, u.updated_at`

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u   User
		pic sql.NullString
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.RoleID, &u.RoleName,
		&pic, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if pic.Valid {
		u.ProfilePictureKey = &pic.String
	}
	return u, nil
}

// Create inserts a user. The very first user of an empty table gets the
// admin role so a fresh installation always has an administrator; everybody
// else gets the default role.
func (r *UserRepo) Create(ctx context.Context, nu NewUser, defaultRole, adminRole rbac.Role) (User, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users FOR UPDATE").Scan(&n); err != nil {
		return User{}, err
	}
	role := defaultRole
	if n == 0 {
		role = adminRole
	}

	email := normalizeEmail(nu.Email)
	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (first_name, last_name, email, password_hash, role_id) VALUES (?,?,?,?,?)",
		nu.FirstName, nu.LastName, email, nu.PasswordHash, role.ID)
	if err != nil {
		if database.IsDuplicate(err) {
			return User{}, ErrEmailExists
		}
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	committed = true

	now := time.Now().UTC()
	return User{
		ID: id, FirstName: nu.FirstName, LastName: nu.LastName, Email: email,
		PasswordHash: nu.PasswordHash, RoleID: role.ID, RoleName: role.Name,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users u JOIN roles r ON r.id = u.role_id WHERE u.email=? LIMIT 1",
		normalizeEmail(email))
	return scanUser(row)
}

// UpdateNames changes first and last name.
func (r *UserRepo) UpdateNames(ctx context.Context, email, first, last string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET first_name=?, last_name=? WHERE email=?", first, last, normalizeEmail(email))
	return err
}

// UpdateEmail moves a user to a new address.
func (r *UserRepo) UpdateEmail(ctx context.Context, email, newEmail string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email=? WHERE email=?", normalizeEmail(newEmail), normalizeEmail(email))
	if database.IsDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

// UpdatePassword stores a new bcrypt hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, email, hash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE email=?", hash, normalizeEmail(email))
	return err
}

// SetProfilePicture stores key (nil clears it) and returns the previous key
// so the caller can remove the old object.
func (r *UserRepo) SetProfilePicture(ctx context.Context, email string, key *string) (*string, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var prev sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT profile_picture_key FROM users WHERE email=? FOR UPDATE", normalizeEmail(email)).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET profile_picture_key=? WHERE email=?", key, normalizeEmail(email)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	if !prev.Valid {
		return nil, nil
	}
	return &prev.String, nil
}

// lockAdminChange locks the target user row and, when the target currently
// holds adminRole and would lose it, checks that another admin remains.
func lockAdminChange(ctx context.Context, tx *sql.Tx, email string, adminRole rbac.Role, losesAdmin bool) (int64, error) {
	var id, roleID int64
	err := tx.QueryRowContext(ctx,
		"SELECT id, role_id FROM users WHERE email=? FOR UPDATE", normalizeEmail(email)).Scan(&id, &roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	if roleID != adminRole.ID || !losesAdmin {
		return id, nil
	}
	var admins int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role_id=? FOR UPDATE", adminRole.ID).Scan(&admins); err != nil {
		return 0, err
	}
	if admins <= 1 {
		return 0, ErrRoleNotAssignable
	}
	return id, nil
}

// UpdateRole sets the global role of the user. Demoting the last holder of
// adminRole fails with ErrRoleNotAssignable.
func (r *UserRepo) UpdateRole(ctx context.Context, email string, role, adminRole rbac.Role) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	id, err := lockAdminChange(ctx, tx, email, adminRole, role.ID != adminRole.ID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE users SET role_id=? WHERE id=?", role.ID, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// lockSoleEventAdmin fails with ErrRoleNotAssignable when userID is the only
// holder of eventAdmin in any event. The bindings it reads stay locked.
func lockSoleEventAdmin(ctx context.Context, tx *sql.Tx, userID int64, eventAdmin rbac.Role) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT event_id FROM event_user_roles WHERE user_id=? AND role_id=? FOR UPDATE", userID, eventAdmin.ID)
	if err != nil {
		return err
	}
	var events []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		events = append(events, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, eventID := range events {
		var admins int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM event_user_roles WHERE event_id=? AND role_id=? FOR UPDATE",
			eventID, eventAdmin.ID).Scan(&admins); err != nil {
			return err
		}
		if admins <= 1 {
			return ErrRoleNotAssignable
		}
	}
	return nil
}

// Delete removes the user and its event bindings. The last holder of
// adminRole, and the only eventAdmin of any event, cannot be deleted.
func (r *UserRepo) Delete(ctx context.Context, email string, adminRole, eventAdmin rbac.Role) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	id, err := lockAdminChange(ctx, tx, email, adminRole, true)
	if err != nil {
		return err
	}
	if err := lockSoleEventAdmin(ctx, tx, id, eventAdmin); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM event_user_roles WHERE user_id=?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id=?", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
