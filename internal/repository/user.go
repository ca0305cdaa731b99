package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"socialite/internal/model"
)

const userColumns = `id, name, username, email, password_hashed, avatar_url, avatar_key, bio,
	       role, active, followers, following, created_at, updated_at`

// maxReadRetries bounds the backoff on idempotent reads. Writes are never
// retried: a blind retry could double-create or double-follow.
const maxReadRetries = 3

const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// userRepository implements UserRepository using sqlx
type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user into the database. Unique-index violations map
// to the duplicate-key sentinels; the service pre-check is only a fast path
// and two concurrent creates can both reach this insert.
func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (name, username, email, password_hashed, avatar_url, avatar_key, bio, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, role, active, followers, following, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		u.Name,
		u.Username,
		u.Email,
		u.PasswordHashed,
		u.AvatarURL,
		u.AvatarKey,
		u.Bio,
		u.Role,
	)

	err := row.Scan(
		&u.ID,
		&u.Role,
		&u.Active,
		&u.Followers,
		&u.Following,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if dupErr := duplicateKeyError(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, "id", id)
}

// GetByUsername retrieves a user by their username
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.getOne(ctx, query, "username", username)
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, "email", email)
}

func (r *userRepository) getOne(ctx context.Context, query, field string, arg interface{}) (*model.User, error) {
	var u model.User
	err := r.readWithRetry(ctx, func() error {
		return r.db.GetContext(ctx, &u, query, arg)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", field, err)
	}

	return &u, nil
}

// List returns a filtered, sorted page of users. An empty page is an empty
// slice, not an error.
func (r *userRepository) List(ctx context.Context, params ListParams) ([]model.User, error) {
	var (
		where []string
		args  []interface{}
	)

	if params.Role != nil {
		args = append(args, *params.Role)
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if params.Active != nil {
		args = append(args, *params.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderByClause(params.Sort)

	args = append(args, params.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, params.Skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	users := []model.User{}
	err := r.readWithRetry(ctx, func() error {
		users = users[:0]
		return r.db.SelectContext(ctx, &users, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// ListByIDs resolves a set of user ids in one query. Missing ids are simply
// absent from the result.
func (r *userRepository) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) ORDER BY id`

	users := []model.User{}
	err := r.readWithRetry(ctx, func() error {
		users = users[:0]
		return r.db.SelectContext(ctx, &users, query, pq.Array(ids))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users by ids: %w", err)
	}

	return users, nil
}

// Update applies a partial update and returns the post-update record.
// Uniqueness of a changed username/email is not re-checked here; the unique
// indexes are the only guard on this path.
func (r *userRepository) Update(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error) {
	if update.IsZero() {
		return r.GetByID(ctx, id)
	}

	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Username != nil {
		set("username", *update.Username)
	}
	if update.Email != nil {
		set("email", *update.Email)
	}
	if update.Bio != nil {
		set("bio", *update.Bio)
	}
	if update.Role != nil {
		set("role", *update.Role)
	}
	if update.Active != nil {
		set("active", *update.Active)
	}
	if update.AvatarURL != nil {
		set("avatar_url", *update.AvatarURL)
	}
	if update.AvatarKey != nil {
		set("avatar_key", *update.AvatarKey)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		if dupErr := duplicateKeyError(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return &u, nil
}

// Delete removes a user and returns the deleted record.
func (r *userRepository) Delete(ctx context.Context, id int64) (*model.User, error) {
	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}

	return &u, nil
}

// AddToFollowing adds targetID to userID's following array.
func (r *userRepository) AddToFollowing(ctx context.Context, userID, targetID int64) (*model.User, error) {
	return r.mutateArray(ctx, "following", arrayAdd, userID, targetID)
}

// AddToFollowers adds targetID to userID's followers array.
func (r *userRepository) AddToFollowers(ctx context.Context, userID, targetID int64) (*model.User, error) {
	return r.mutateArray(ctx, "followers", arrayAdd, userID, targetID)
}

// RemoveFromFollowing removes targetID from userID's following array.
func (r *userRepository) RemoveFromFollowing(ctx context.Context, userID, targetID int64) (*model.User, error) {
	return r.mutateArray(ctx, "following", arrayRemove, userID, targetID)
}

// RemoveFromFollowers removes targetID from userID's followers array.
func (r *userRepository) RemoveFromFollowers(ctx context.Context, userID, targetID int64) (*model.User, error) {
	return r.mutateArray(ctx, "followers", arrayRemove, userID, targetID)
}

type arrayOp int

const (
	arrayAdd arrayOp = iota
	arrayRemove
)

// mutateArray runs a single-row, set-semantics update on one of the two
// relationship arrays and returns the post-update record. The CASE guard
// keeps a duplicate add from growing the array, so re-applying the same
// mutation is always safe.
func (r *userRepository) mutateArray(ctx context.Context, column string, op arrayOp, userID, targetID int64) (*model.User, error) {
	var expr string
	switch op {
	case arrayAdd:
		expr = fmt.Sprintf(`CASE WHEN $2 = ANY(%s) THEN %s ELSE array_append(%s, $2) END`, column, column, column)
	case arrayRemove:
		expr = fmt.Sprintf(`array_remove(%s, $2)`, column)
	}

	query := fmt.Sprintf(`UPDATE users SET %s = %s, updated_at = NOW() WHERE id = $1 RETURNING %s`,
		column, expr, userColumns)

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, userID, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update %s: %w", column, err)
	}

	return &u, nil
}

// readWithRetry retries an idempotent read with bounded exponential backoff.
// Not-found and context cancellation are terminal, not transient.
func (r *userRepository) readWithRetry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxReadRetries), ctx)
	return backoff.Retry(op, b)
}

// sortColumns whitelists what the listing may sort by; anything else in the
// sort expression is dropped rather than interpolated into SQL.
var sortColumns = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"username":   {},
	"email":      {},
	"name":       {},
	"role":       {},
}

func orderByClause(sort string) string {
	var clauses []string
	for _, field := range strings.Split(sort, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
			field = field[1:]
		}
		if _, ok := sortColumns[field]; !ok {
			continue
		}
		clauses = append(clauses, field+" "+dir)
	}
	if len(clauses) == 0 {
		return "created_at DESC"
	}
	return strings.Join(clauses, ", ")
}

// duplicateKeyError maps a Postgres unique violation to the matching
// sentinel, or returns nil if err is not a unique violation.
func duplicateKeyError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	switch pqErr.Constraint {
	case usernameConstraint:
		return model.ErrUsernameExists
	case emailConstraint:
		return model.ErrEmailExists
	}
	return model.ErrUsernameExists
}
