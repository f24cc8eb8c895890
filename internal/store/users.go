package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned when a lookup finds no matching row in
// either partition.
var ErrUserNotFound = errors.New("store: user not found")

// ErrUsernameTaken is returned when CreateUser collides with an
// existing username in the active partition.
var ErrUsernameTaken = errors.New("store: username already exists")

// UserStore provides CRUD and lifecycle operations over the two-table
// users/deactivated_users schema.
type UserStore struct {
	db *Database
}

// NewUserStore wraps a Database for user operations.
func NewUserStore(db *Database) *UserStore {
	return &UserStore{db: db}
}

func foldUsername(username string) string {
	return strings.ToLower(username)
}

// CreateUser hashes password and inserts a new active-partition row
// with a freshly minted user_id.
func (s *UserStore) CreateUser(ctx context.Context, username, password string) (User, error) {
	username = foldUsername(username)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("store: hash password: %w", err)
	}

	user := User{
		UserID:         uuid.New().String(),
		Username:       username,
		HashedPassword: string(hashed),
	}

	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO users (user_id, username, password) VALUES ($1, $2, $3)`,
		user.UserID, user.Username, user.HashedPassword)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("store: create user: %w", err)
	}

	return user, nil
}

// GetUser fetches an active-partition row by user_id.
func (s *UserStore) GetUser(ctx context.Context, userID string) (User, error) {
	return s.getFrom(ctx, "users", "user_id", userID)
}

// GetUserByUsername fetches an active-partition row by username,
// case-folded.
func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getFrom(ctx, "users", "username", foldUsername(username))
}

func (s *UserStore) getFrom(ctx context.Context, table, column, value string) (User, error) {
	row := s.db.DB().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT user_id, username, password FROM %s WHERE %s = $1`, table, column),
		value)

	var u User
	if err := row.Scan(&u.UserID, &u.Username, &u.HashedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// VerifyPassword looks up the active user by username and compares
// password against the stored hash. Any failure — unknown username or
// mismatched password — returns ErrUserNotFound, deliberately not
// distinguishing the two to the caller.
func (s *UserStore) VerifyPassword(ctx context.Context, username, password string) (User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)); err != nil {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// UpdatePassword re-hashes and overwrites the active user's password.
func (s *UserStore) UpdatePassword(ctx context.Context, userID, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("store: hash password: %w", err)
	}

	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE users SET password = $1 WHERE user_id = $2`, string(hashed), userID)
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Deactivate atomically moves a user row from the active to the
// deactivated partition.
func (s *UserStore) Deactivate(ctx context.Context, userID string) error {
	return s.moveUser(ctx, userID, "users", "deactivated_users")
}

// Reactivate atomically moves a user row back to the active partition.
func (s *UserStore) Reactivate(ctx context.Context, userID string) error {
	return s.moveUser(ctx, userID, "deactivated_users", "users")
}

func (s *UserStore) moveUser(ctx context.Context, userID, from, to string) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT username, password FROM %s WHERE user_id = $1`, from), userID)

	var username, password string
	if err := row.Scan(&username, &password); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("store: move user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, from), userID); err != nil {
		return fmt.Errorf("store: move user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, username, password) VALUES ($1, $2, $3)`, to),
		userID, username, password); err != nil {
		return fmt.Errorf("store: move user: %w", err)
	}

	return tx.Commit()
}

// SearchResult is one resolved identity from a SearchUsers call.
type SearchResult struct {
	Identity Identity
}

// SearchError describes one key that did not resolve to a user.
type SearchError struct {
	Message string
	Key     string
	Value   string
}

// SearchUsers resolves a set of user_id and/or username values against
// the active partition, case-folding usernames.
func (s *UserStore) SearchUsers(ctx context.Context, userIDs, usernames []string) ([]SearchResult, []SearchError) {
	var results []SearchResult
	var errs []SearchError

	for _, id := range userIDs {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			errs = append(errs, SearchError{Message: "Unable to find user_id", Key: "user_id", Value: id})
			continue
		}
		results = append(results, SearchResult{Identity: u.Identity()})
	}

	for _, name := range usernames {
		u, err := s.GetUserByUsername(ctx, name)
		if err != nil {
			errs = append(errs, SearchError{Message: "Unable to find username", Key: "username", Value: name})
			continue
		}
		results = append(results, SearchResult{Identity: u.Identity()})
	}

	return results, errs
}

// Probe executes a cheap no-match query, used by the readiness handler
// to verify the store is reachable without mutating anything.
func (s *UserStore) Probe(ctx context.Context) error {
	_, err := s.GetUser(ctx, "__gatekeep_readiness_probe__")
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}
