package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCreateWithAdmin(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)
	start := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO events")).
		WithArgs("Meetup", nil, start, start.Add(2*time.Hour), nil).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(q("INSERT INTO event_user_roles")).WithArgs(1, 7, eventAdmin.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var provisioned int64
	ev, err := repo.CreateWithAdmin(context.Background(),
		Event{Name: "Meetup", StartTime: start, EndTime: start.Add(2 * time.Hour)},
		1, eventAdmin.ID,
		func(ctx context.Context, id int64) error {
			provisioned = id
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, int64(7), provisioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventCreateWithAdmin_ProvisionFailureRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)
	start := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO events")).WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(q("INSERT INTO event_user_roles")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("create database failed")
	_, err := repo.CreateWithAdmin(context.Background(),
		Event{Name: "Broken", StartTime: start, EndTime: start},
		1, eventAdmin.ID,
		func(context.Context, int64) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventGetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectQuery(q("FROM events e WHERE e.id=?")).WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRole(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectQuery(q("FROM event_user_roles eur")).WithArgs("ana@example.com", 7).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("staff"))
	mock.ExpectQuery(q("FROM event_user_roles eur")).WithArgs("ana@example.com", 8).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	role, ok, err := repo.EventRole(context.Background(), "Ana@example.com", 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "staff", role)

	_, ok, err = repo.EventRole(context.Background(), "ana@example.com", 8)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAssignRole_LastAdminIsProtected(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT 1 FROM events WHERE id=? FOR UPDATE")).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(q("SELECT role_id FROM event_user_roles WHERE user_id=? AND event_id=? FOR UPDATE")).
		WithArgs(1, 7).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(eventAdmin.ID))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM event_user_roles WHERE event_id=? AND role_id=? FOR UPDATE")).
		WithArgs(7, eventAdmin.ID).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.AssignRole(context.Background(), 7, 1, eventStaff, eventAdmin)
	assert.ErrorIs(t, err, ErrRoleNotAssignable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAssignRole_NewBinding(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT 1 FROM events WHERE id=? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(q("SELECT role_id FROM event_user_roles")).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}))
	mock.ExpectExec(q("ON DUPLICATE KEY UPDATE")).WithArgs(2, 7, eventStaff.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AssignRole(context.Background(), 7, 2, eventStaff, eventAdmin))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAssignRole_UnknownEvent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT 1 FROM events WHERE id=? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectRollback()

	err := repo.AssignRole(context.Background(), 99, 2, eventStaff, eventAdmin)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM event_user_roles WHERE event_id=?")).WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM events WHERE id=?")).WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), 7)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
