package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/eventapp/internal/database"
)

// Participant mirrors the 'participants' table of an event database.
type Participant struct {
	ID          int64
	UserEmail   string
	DisplayName string
	CreatedAt   time.Time
}

// ParticipantRepo works on one tenant database. It is cheap to build per
// request around the pool returned by the tenant manager.
type ParticipantRepo struct{ DB *sql.DB }

func NewParticipantRepo(db *sql.DB) *ParticipantRepo { return &ParticipantRepo{DB: db} }

func (r *ParticipantRepo) List(ctx context.Context) ([]Participant, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, user_email, display_name, created_at FROM participants ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Participant{}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.UserEmail, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Add registers a participant; a second registration of the same email is ErrConflict.
func (r *ParticipantRepo) Add(ctx context.Context, email, displayName string) (Participant, error) {
	email = normalizeEmail(email)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO participants (user_email, display_name) VALUES (?, ?)", email, displayName)
	if err != nil {
		if database.IsDuplicate(err) {
			return Participant{}, ErrConflict
		}
		return Participant{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Participant{}, err
	}
	return Participant{ID: id, UserEmail: email, DisplayName: displayName, CreatedAt: time.Now().UTC()}, nil
}
