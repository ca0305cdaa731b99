package service

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"socialite/internal/model"
	"socialite/internal/queue"
	"socialite/internal/repository"
)

// IdentityService owns the user lifecycle: uniqueness enforcement on create,
// password hashing, profile-image replacement, and the two-sided follow and
// unfollow updates.
type IdentityService struct {
	repo       repository.UserRepository
	images     ImageHost
	publisher  queue.Publisher
	logger     *logrus.Logger
	bcryptCost int
}

func NewIdentityService(repo repository.UserRepository, images ImageHost, publisher queue.Publisher, logger *logrus.Logger, bcryptCost int) *IdentityService {
	return &IdentityService{
		repo:       repo,
		images:     images,
		publisher:  publisher,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

// CreateUser checks both business keys before creating the record. Email is
// checked before username, so when both collide the email conflict wins.
// The pre-check is a fast path for friendly error messages only: two
// concurrent creates can both pass it, and the store's unique indexes are
// the real guarantee (the repository maps their violations to the same
// sentinels).
func (s *IdentityService) CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, model.ErrEmailExists
	} else if err != model.ErrUserNotFound {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, model.ErrUsernameExists
	} else if err != model.ErrUserNotFound {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = model.RoleUser
	}

	user := &model.User{
		Name:           req.Name,
		Username:       req.Username,
		Email:          req.Email,
		PasswordHashed: string(hashedPassword),
		Role:           role,
	}
	if req.Bio != "" {
		user.Bio = &req.Bio
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if err == model.ErrEmailExists || err == model.ErrUsernameExists {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by ID.
func (s *IdentityService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetByID(ctx, id)
}

// ListUsers returns the filtered page of users. An empty page is a valid
// result, not an error.
func (s *IdentityService) ListUsers(ctx context.Context, params repository.ListParams) ([]model.User, error) {
	return s.repo.List(ctx, params)
}

// UpdateUser applies a partial update to an existing user. The existence
// pre-check keeps the not-found signal ahead of any mutation. A changed
// username or email is NOT re-checked for uniqueness here; only the store's
// unique indexes guard that path.
func (s *IdentityService) UpdateUser(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, update)
}

// DeleteUser removes the user record. Content owned by the user (posts,
// comments) lives outside this system and is not cascaded.
func (s *IdentityService) DeleteUser(ctx context.Context, id int64) (*model.User, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Delete(ctx, id)
}

// UpdateProfileImage uploads the new image first, then resolves the user.
// The ordering means a successful upload is orphaned when the lookup fails;
// instead of reordering, the orphan is handed to the reconciler for
// deletion. When the user carries a previous custom image its old object is
// deleted, exactly once, before the new reference is persisted; a delete
// failure aborts the replacement and orphans the new upload the same way.
func (s *IdentityService) UpdateProfileImage(ctx context.Context, userID int64, file multipart.File, header *multipart.FileHeader) (*model.User, error) {
	upload, err := s.images.UploadAvatar(ctx, file, header)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		s.publishOrphan(ctx, upload.Key)
		return nil, err
	}

	if user.AvatarKey != nil && *user.AvatarKey != "" {
		if err := s.images.Delete(ctx, *user.AvatarKey); err != nil {
			s.publishOrphan(ctx, upload.Key)
			return nil, fmt.Errorf("failed to delete old profile image: %w", err)
		}
	}

	updated, err := s.repo.Update(ctx, userID, &model.UserUpdate{
		AvatarURL: &upload.URL,
		AvatarKey: &upload.Key,
	})
	if err != nil {
		s.publishOrphan(ctx, upload.Key)
		return nil, err
	}

	return updated, nil
}

// Follow adds target to the user's following set, then the user to the
// target's followers set. The two mutations are separate single-record
// writes, not a transaction: a failure between them leaves the
// bidirectional invariant broken until the published event is reconciled.
// The returned record reflects only the first mutation.
func (s *IdentityService) Follow(ctx context.Context, userID, targetID int64) (*model.User, error) {
	if userID == targetID {
		return nil, model.ErrCannotFollowSelf
	}

	if _, err := s.repo.GetByID(ctx, targetID); err != nil {
		return nil, err
	}

	user, err := s.repo.AddToFollowing(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}

	_, mirrorErr := s.repo.AddToFollowers(ctx, targetID, userID)

	s.publishGraphEvent(ctx, queue.NewUserFollowedEvent(userID, targetID))

	if mirrorErr != nil {
		return nil, fmt.Errorf("failed to update followers of %d: %w", targetID, mirrorErr)
	}

	return user, nil
}

// Unfollow is symmetric to Follow with removal instead of addition; the
// same two-step, same non-atomicity. Unfollowing a user that is not
// currently followed is a no-op thanks to the repository's set semantics.
func (s *IdentityService) Unfollow(ctx context.Context, userID, targetID int64) (*model.User, error) {
	if userID == targetID {
		return nil, model.ErrCannotFollowSelf
	}

	if _, err := s.repo.GetByID(ctx, targetID); err != nil {
		return nil, err
	}

	user, err := s.repo.RemoveFromFollowing(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}

	_, mirrorErr := s.repo.RemoveFromFollowers(ctx, targetID, userID)

	s.publishGraphEvent(ctx, queue.NewUserUnfollowedEvent(userID, targetID))

	if mirrorErr != nil {
		return nil, fmt.Errorf("failed to update followers of %d: %w", targetID, mirrorErr)
	}

	return user, nil
}

// GetFollowers resolves the user's followers set to full records.
func (s *IdentityService) GetFollowers(ctx context.Context, userID int64) ([]model.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByIDs(ctx, user.Followers)
}

// GetFollowing resolves the user's following set to full records.
func (s *IdentityService) GetFollowing(ctx context.Context, userID int64) ([]model.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByIDs(ctx, user.Following)
}

// publishGraphEvent hands a follow/unfollow event to the reconciler stream.
// Publishing is best-effort: the request outcome never depends on it.
func (s *IdentityService) publishGraphEvent(ctx context.Context, event queue.GraphEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, queue.StreamGraph, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"type":     event.Type,
			"follower": event.FollowerID,
			"followee": event.FolloweeID,
		}).WithError(err).Error("failed to publish graph event")
	}
}

func (s *IdentityService) publishOrphan(ctx context.Context, key string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, queue.StreamGraph, queue.NewAvatarOrphanedEvent(key)); err != nil {
		s.logger.WithField("key", key).WithError(err).Error("failed to publish orphaned avatar event")
	}
}
