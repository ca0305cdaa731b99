package repository

import (
	"context"

	"socialite/internal/model"
)

// ListParams controls the paginated admin listing. Sort accepts a
// comma-separated list of whitelisted columns, each optionally prefixed
// with "-" for descending order.
type ListParams struct {
	Role   *string
	Active *bool
	Skip   int
	Limit  int
	Sort   string
}

// UserRepository is the credential-store boundary. Every operation maps to
// exactly one query; none perform business logic, none retry non-idempotent
// writes, and all failures propagate to the caller unchanged.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, params ListParams) ([]model.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]model.User, error)
	Update(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error)
	Delete(ctx context.Context, id int64) (*model.User, error)

	// Follower/following array mutations. Each mutates exactly one array on
	// exactly one record with set semantics: adding a present id and
	// removing an absent id are no-ops, not errors.
	AddToFollowing(ctx context.Context, userID, targetID int64) (*model.User, error)
	AddToFollowers(ctx context.Context, userID, targetID int64) (*model.User, error)
	RemoveFromFollowing(ctx context.Context, userID, targetID int64) (*model.User, error)
	RemoveFromFollowers(ctx context.Context, userID, targetID int64) (*model.User, error)
}
