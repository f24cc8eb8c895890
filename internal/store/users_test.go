package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) (*UserStore, sqlmock.Sqlmock, func()) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := NewDatabaseForTesting(mockDB)
	return NewUserStore(db), mock, func() { mockDB.Close() }
}

func TestCreateUser_Success(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := store.CreateUser(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.UserID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte("s3cret")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_FoldsUsername(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := store.CreateUser(context.Background(), "BOB", "pw")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
}

func TestCreateUser_Conflict(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnError(&pqUniqueViolation{})

	_, err := store.CreateUser(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGetUser_Success(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "alice", "hashed")
	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnRows(rows)

	u, err := store.GetUser(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestGetUser_NotFound(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyPassword_Success(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "alice", string(hashed))
	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(rows)

	u, err := store.VerifyPassword(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "id-1", u.UserID)
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "alice", string(hashed))
	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(rows)

	_, err = store.VerifyPassword(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyPassword_UnknownUser(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.VerifyPassword(context.Background(), "ghost", "pw")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeactivate_MovesRowBetweenPartitions(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"username", "password"}).AddRow("alice", "hashed")
	mock.ExpectQuery(`SELECT username, password FROM users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO deactivated_users`).
		WithArgs("id-1", "alice", "hashed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Deactivate(context.Background(), "id-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReactivate_MovesRowBack(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"username", "password"}).AddRow("alice", "hashed")
	mock.ExpectQuery(`SELECT username, password FROM deactivated_users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM deactivated_users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("id-1", "alice", "hashed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Reactivate(context.Background(), "id-1")
	require.NoError(t, err)
}

func TestSearchUsers_Mixed(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "alice", "hashed")
	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	results, errs := store.SearchUsers(context.Background(), []string{"id-1"}, []string{"ghost"})
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Identity.Username)
	require.Len(t, errs, 1)
	assert.Equal(t, "Unable to find username", errs[0].Message)
}

// pqUniqueViolation is a minimal stand-in for lib/pq's *pq.Error,
// matched on message text the way Postgres actually reports the
// violation.
type pqUniqueViolation struct{}

func (e *pqUniqueViolation) Error() string {
	return `pq: duplicate key value violates unique constraint "users_username_key"`
}
