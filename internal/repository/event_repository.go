package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/eventapp/internal/rbac"
)

// Event mirrors the 'events' table.
type Event struct {
	ID          int64
	Name        string
	Description *string
	StartTime   time.Time
	EndTime     time.Time
	BankAccount *string
	LogoKey     *string
	CreatedAt   time.Time
}

// EventUserRole is one row of event_user_roles with the role name resolved.
type EventUserRole struct {
	UserID   int64
	EventID  int64
	RoleID   int64
	RoleName string
}

// MyEvent is an event together with the caller's role in it.
type MyEvent struct {
	Event
	RoleName string
}

// ProvisionFunc creates the tenant database of a freshly inserted event. It
// runs while the event transaction is still open.
type ProvisionFunc func(ctx context.Context, eventID int64) error

type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

const eventColumns = "e.id, e.name, e.description, e.start_time, e.end_time, e.bank_account, e.logo_key, e.created_at"

func scanEvent(row interface{ Scan(...any) error }, extra ...any) (Event, error) {
	var (
		ev               Event
		desc, bank, logo sql.NullString
	)
	dest := append([]any{&ev.ID, &ev.Name, &desc, &ev.StartTime, &ev.EndTime, &bank, &logo, &ev.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	ev.Description = ptr(desc)
	ev.BankAccount = ptr(bank)
	ev.LogoKey = ptr(logo)
	return ev, nil
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// CreateWithAdmin inserts the event and binds creatorID to it with
// adminRoleID, then calls provision. All three succeed or the transaction is
// rolled back. A database created by provision is not dropped on rollback.
func (r *EventRepo) CreateWithAdmin(ctx context.Context, ev Event, creatorID, adminRoleID int64, provision ProvisionFunc) (Event, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (name, description, start_time, end_time, bank_account) VALUES (?, ?, ?, ?, ?)`,
		ev.Name, ev.Description, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.BankAccount)
	if err != nil {
		return Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO event_user_roles (user_id, event_id, role_id) VALUES (?, ?, ?)",
		creatorID, id, adminRoleID); err != nil {
		return Event{}, err
	}
	if provision != nil {
		if err := provision(ctx, id); err != nil {
			return Event{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Event{}, err
	}
	committed = true

	ev.ID = id
	ev.CreatedAt = time.Now().UTC()
	return ev, nil
}

// GetByID returns ErrEventNotFound for an unknown id.
func (r *EventRepo) GetByID(ctx context.Context, id int64) (Event, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events e WHERE e.id=? LIMIT 1", id)
	return scanEvent(row)
}

// ListForUser returns the events the user is bound to.
func (r *EventRepo) ListForUser(ctx context.Context, userID int64) ([]MyEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+`, ro.name
               FROM events e
               JOIN event_user_roles eur ON eur.event_id = e.id
               JOIN roles ro ON ro.id = eur.role_id
               WHERE eur.user_id = ?
               ORDER BY e.start_time, e.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MyEvent{}
	for rows.Next() {
		var role string
		ev, err := scanEvent(rows, &role)
		if err != nil {
			return nil, err
		}
		out = append(out, MyEvent{Event: ev, RoleName: role})
	}
	return out, rows.Err()
}

// Update overwrites the editable fields of the event.
func (r *EventRepo) Update(ctx context.Context, ev Event) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE events SET name=?, description=?, start_time=?, end_time=?, bank_account=? WHERE id=?`,
		ev.Name, ev.Description, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.BankAccount, ev.ID)
	if err != nil {
		return err
	}
	// MySQL reports 0 affected rows when nothing changed, so only a
	// missing row is treated as not found.
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, ev.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the event and its bindings.
func (r *EventRepo) Delete(ctx context.Context, id int64) error {
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

	if _, err := tx.ExecContext(ctx, "DELETE FROM event_user_roles WHERE event_id=?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// EventRole returns the name of the role email holds in eventID.
func (r *EventRepo) EventRole(ctx context.Context, email string, eventID int64) (string, bool, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT ro.name
               FROM event_user_roles eur
               JOIN users u ON u.id = eur.user_id
               JOIN roles ro ON ro.id = eur.role_id
               WHERE u.email = ? AND eur.event_id = ?
               LIMIT 1`, normalizeEmail(email), eventID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

// AssignRole binds userID to eventID with role, replacing an existing
// binding. Taking the admin role away from the event's last admin fails with
// ErrRoleNotAssignable.
func (r *EventRepo) AssignRole(ctx context.Context, eventID, userID int64, role, adminRole rbac.Role) error {
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

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM events WHERE id=? FOR UPDATE", eventID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return err
	}

	if role.ID != adminRole.ID {
		var current int64
		err := tx.QueryRowContext(ctx,
			"SELECT role_id FROM event_user_roles WHERE user_id=? AND event_id=? FOR UPDATE",
			userID, eventID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && current == adminRole.ID {
			var admins int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM event_user_roles WHERE event_id=? AND role_id=? FOR UPDATE",
				eventID, adminRole.ID).Scan(&admins); err != nil {
				return err
			}
			if admins <= 1 {
				return ErrRoleNotAssignable
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO event_user_roles (user_id, event_id, role_id) VALUES (?, ?, ?)
         ON DUPLICATE KEY UPDATE role_id = VALUES(role_id)`,
		userID, eventID, role.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Members lists the bindings of an event.
func (r *EventRepo) Members(ctx context.Context, eventID int64) ([]EventUserRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT eur.user_id, eur.event_id, eur.role_id, ro.name
               FROM event_user_roles eur
               JOIN roles ro ON ro.id = eur.role_id
               WHERE eur.event_id = ?
               ORDER BY eur.user_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EventUserRole{}
	for rows.Next() {
		var m EventUserRole
		if err := rows.Scan(&m.UserID, &m.EventID, &m.RoleID, &m.RoleName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
