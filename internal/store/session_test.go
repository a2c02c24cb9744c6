package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextgendem/slicehub/internal/domain"
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SessionStore{db: db}, mock
}

func TestCreateSession_Success(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	session := &domain.Session{
		ID:            "sess-1",
		User:          "free_user",
		URLPath:       "/sess-1/",
		ContainerName: domain.ContainerNameFor("free_user"),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.ID, session.User, session.URLPath, sqlmock.AnyArg(), session.ContainerName,
			false, false, false, float64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateSession(ctx, session)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession_Conflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	session := &domain.Session{ID: "sess-2", User: "free_user", URLPath: "/sess-2/", ContainerName: "c"}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.CreateSession(ctx, session)

	assert.ErrorIs(t, err, ErrSessionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionByUser_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE user_name").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	session, err := store.GetSessionByUser(ctx, "ghost")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_Success(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_name", "url_path", "service_address", "container_name",
		"restart", "gpu", "shared", "cpu_percent", "created_at", "last_activity",
	}).AddRow("sess-1", "free_user", "/sess-1/", "10.0.0.5:8080", "slicehub-free-user",
		false, false, true, 12.5, now, now)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(rows)

	session, err := store.GetSession(ctx, "sess-1")

	require.NoError(t, err)
	assert.Equal(t, "free_user", session.User)
	assert.Equal(t, "10.0.0.5:8080", session.ServiceAddress)
	assert.True(t, session.HasAddress())
	assert.True(t, session.Shared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateShared(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET shared").
		WithArgs(true, "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateShared(ctx, "sess-1", true)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchActivity_ActiveRefreshesLastActivity(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET cpu_percent = \\$1, last_activity = \\$2").
		WithArgs(42.0, sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.TouchActivity(ctx, "sess-1", 42.0, true)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSession(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM sessions WHERE id").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeleteSession(ctx, "sess-1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
