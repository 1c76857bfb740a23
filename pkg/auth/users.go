package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

const (
	// DefaultRole is given to self-registered accounts.
	DefaultRole = "user"
	// MinPasswordLen is the shortest accepted password.
	MinPasswordLen = 6
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the user does not exist so both
// failure paths take the same time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("registry-dummy-password"), bcrypt.MinCost)

// User is a registry account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UsersOption configures Users.
type UsersOption func(*Users)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) UsersOption {
	return func(u *Users) { u.cost = cost }
}

// Users manages accounts in the users table.
type Users struct {
	db    *store.DB
	audit audit.TxRecorder
	cost  int
	now   func() time.Time
}

func NewUsers(db *store.DB, auditor audit.TxRecorder, opts ...UsersOption) *Users {
	u := &Users{
		db:    db,
		audit: auditor,
		cost:  bcrypt.DefaultCost,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Register creates an account with DefaultRole.
func (u *Users) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	var missing []string
	if username == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return User{}, domain.MissingFields(missing)
	}
	if len(password) < MinPasswordLen {
		return User{}, &domain.ValidationError{
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters long", MinPasswordLen),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{ID: store.NewID(), Username: username, Role: DefaultRole, CreatedAt: u.now()}
	err = u.db.RunInTx(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
			user.ID, user.Username, string(hash), user.Role, user.CreatedAt)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("username already exists: %w", domain.ErrConflict)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if u.audit != nil {
			u.audit.RecordTx(ctx, tx, audit.NewEvent(user.ID, audit.ActionRegisterUser, map[string]any{
				"user_id":  user.ID,
				"username": user.Username,
			}))
		}
		return nil
	})
	if err != nil {
		return User{}, domain.Fault("register user", err)
	}
	return user, nil
}

// Authenticate checks a username and password.
func (u *Users) Authenticate(ctx context.Context, username, password string) (User, error) {
	var (
		user User
		hash string
	)
	err := u.db.QueryRowContext(ctx,
		`SELECT id, username, role, created_at, password_hash FROM users WHERE username = $1`,
		strings.TrimSpace(username),
	).Scan(&user.ID, &user.Username, &user.Role, &user.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, domain.Fault("authenticate", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// List returns all accounts, newest first.
func (u *Users) List(ctx context.Context) ([]User, error) {
	rows, err := u.db.QueryContext(ctx, `SELECT id, username, role, created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.Fault("list users", err)
	}
	defer func() { _ = rows.Close() }()

	out := []User{}
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Role, &user.CreatedAt); err != nil {
			return nil, domain.Fault("list users", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fault("list users", err)
	}
	return out, nil
}

// SetRole changes an account's role. Tokens already issued keep the old role
// until they expire.
func (u *Users) SetRole(ctx context.Context, actorID, username, role string) (User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return User{}, domain.MissingFields([]string{"role"})
	}
	var user User
	err := u.db.RunInTx(ctx, func(tx *store.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, username, role, created_at FROM users WHERE username = $1 FOR UPDATE`, username,
		).Scan(&user.ID, &user.Username, &user.Role, &user.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: "user", Key: username}
		}
		if err != nil {
			return fmt.Errorf("read user: %w", err)
		}
		previous := user.Role
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, user.ID); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		user.Role = role
		if u.audit != nil {
			u.audit.RecordTx(ctx, tx, audit.NewEvent(actorID, audit.ActionSetRole, map[string]any{
				"user_id":  user.ID,
				"username": user.Username,
				"from":     previous,
				"to":       role,
			}))
		}
		return nil
	})
	if err != nil {
		return User{}, domain.Fault("set role", err)
	}
	return user, nil
}
