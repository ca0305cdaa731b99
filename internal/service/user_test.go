package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"socialite/internal/model"
	"socialite/internal/queue"
	"socialite/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// mockUserRepository implements repository.UserRepository with per-test
// behavior supplied through function fields, plus call tracking so tests can
// assert what was (and was not) touched.
type mockUserRepository struct {
	createFn        func(ctx context.Context, user *model.User) error
	getByIDFn       func(ctx context.Context, id int64) (*model.User, error)
	getByUsernameFn func(ctx context.Context, username string) (*model.User, error)
	getByEmailFn    func(ctx context.Context, email string) (*model.User, error)
	updateFn        func(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error)
	deleteFn        func(ctx context.Context, id int64) (*model.User, error)
	listFn          func(ctx context.Context, params repository.ListParams) ([]model.User, error)
	listByIDsFn     func(ctx context.Context, ids []int64) ([]model.User, error)

	addToFollowingFn      func(ctx context.Context, userID, targetID int64) (*model.User, error)
	addToFollowersFn      func(ctx context.Context, userID, targetID int64) (*model.User, error)
	removeFromFollowingFn func(ctx context.Context, userID, targetID int64) (*model.User, error)
	removeFromFollowersFn func(ctx context.Context, userID, targetID int64) (*model.User, error)

	createCalls []*model.User
	updateCalls []int64
	deleteCalls []int64
	mutations   []string // ordered record of array mutations, e.g. "following+ 1->2"
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error {
	m.createCalls = append(m.createCalls, user)
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	user.ID = 1
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) List(ctx context.Context, params repository.ListParams) ([]model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return []model.User{}, nil
}

func (m *mockUserRepository) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	if m.listByIDsFn != nil {
		return m.listByIDsFn(ctx, ids)
	}
	users := make([]model.User, len(ids))
	for i, id := range ids {
		users[i] = model.User{ID: id}
	}
	return users, nil
}

func (m *mockUserRepository) Update(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error) {
	m.updateCalls = append(m.updateCalls, id)
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return &model.User{ID: id}, nil
}

func (m *mockUserRepository) Delete(ctx context.Context, id int64) (*model.User, error) {
	m.deleteCalls = append(m.deleteCalls, id)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}

func (m *mockUserRepository) AddToFollowing(ctx context.Context, userID, targetID int64) (*model.User, error) {
	m.record("following+", userID, targetID)
	if m.addToFollowingFn != nil {
		return m.addToFollowingFn(ctx, userID, targetID)
	}
	return &model.User{ID: userID, Following: []int64{targetID}}, nil
}

func (m *mockUserRepository) AddToFollowers(ctx context.Context, userID, targetID int64) (*model.User, error) {
	m.record("followers+", userID, targetID)
	if m.addToFollowersFn != nil {
		return m.addToFollowersFn(ctx, userID, targetID)
	}
	return &model.User{ID: userID, Followers: []int64{targetID}}, nil
}

func (m *mockUserRepository) RemoveFromFollowing(ctx context.Context, userID, targetID int64) (*model.User, error) {
	m.record("following-", userID, targetID)
	if m.removeFromFollowingFn != nil {
		return m.removeFromFollowingFn(ctx, userID, targetID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserRepository) RemoveFromFollowers(ctx context.Context, userID, targetID int64) (*model.User, error) {
	m.record("followers-", userID, targetID)
	if m.removeFromFollowersFn != nil {
		return m.removeFromFollowersFn(ctx, userID, targetID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserRepository) record(op string, userID, targetID int64) {
	m.mutations = append(m.mutations, mutation(op, userID, targetID))
}

func mutation(op string, userID, targetID int64) string {
	return fmt.Sprintf("%s %d->%d", op, userID, targetID)
}

// mockImageHost tracks uploads and deletes.
type mockImageHost struct {
	uploadFn func(ctx context.Context) (*model.UploadResult, error)
	deleteFn func(ctx context.Context, key string) error

	deleteCalls []string
}

func (m *mockImageHost) UploadAvatar(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*model.UploadResult, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx)
	}
	return &model.UploadResult{URL: "https://cdn.example/avatars/new.jpg", Key: "avatars/new.jpg"}, nil
}

func (m *mockImageHost) Delete(ctx context.Context, key string) error {
	m.deleteCalls = append(m.deleteCalls, key)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

// mockPublisher records published events.
type mockPublisher struct {
	events []queue.GraphEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event queue.GraphEvent) (string, error) {
	m.events = append(m.events, event)
	return "1-0", m.err
}

func newTestService(repo *mockUserRepository, images *mockImageHost, pub *mockPublisher) *IdentityService {
	return NewIdentityService(repo, images, pub, testLogger(), bcrypt.MinCost)
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestIdentityService_CreateUser_Success(t *testing.T) {
	mockRepo := &mockUserRepository{
		createFn: func(ctx context.Context, user *model.User) error {
			user.ID = 1
			user.Active = true
			return nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	req := &model.CreateUserRequest{
		Name:            "John Doe",
		Username:        "JohnDoe",
		Email:           "John@gmail.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	}

	user, err := svc.CreateUser(context.Background(), req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if user.Username != req.Username {
		t.Errorf("username = %q, want %q", user.Username, req.Username)
	}
	if user.Role != model.RoleUser {
		t.Errorf("role = %q, want %q", user.Role, model.RoleUser)
	}

	// The stored password must never equal the plaintext input
	if user.PasswordHashed == req.Password {
		t.Error("password should be hashed, not stored in plain text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHashed), []byte(req.Password)); err != nil {
		t.Error("password hash should be valid bcrypt hash")
	}

	if len(mockRepo.createCalls) != 1 {
		t.Errorf("Create called %d times, want 1", len(mockRepo.createCalls))
	}
}

func TestIdentityService_CreateUser_EmailExists(t *testing.T) {
	// Both keys taken: the email conflict must win because email is checked
	// first.
	mockRepo := &mockUserRepository{
		getByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email}, nil
		},
		getByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			return &model.User{ID: 7, Username: username}, nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	_, err := svc.CreateUser(context.Background(), &model.CreateUserRequest{
		Name:     "John Doe",
		Username: "JohnDoe",
		Email:    "John@gmail.com",
		Password: "password123",
	})

	if !errors.Is(err, model.ErrEmailExists) {
		t.Errorf("error = %v, want %v", err, model.ErrEmailExists)
	}
	if len(mockRepo.createCalls) != 0 {
		t.Error("Create should not be called when email exists")
	}
}

func TestIdentityService_CreateUser_UsernameExists(t *testing.T) {
	mockRepo := &mockUserRepository{
		getByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			return &model.User{ID: 7, Username: username}, nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	_, err := svc.CreateUser(context.Background(), &model.CreateUserRequest{
		Name:     "John Doe",
		Username: "JohnDoe",
		Email:    "newEmail@gmail.com",
		Password: "password123",
	})

	if !errors.Is(err, model.ErrUsernameExists) {
		t.Errorf("error = %v, want %v", err, model.ErrUsernameExists)
	}
	if len(mockRepo.createCalls) != 0 {
		t.Error("Create should not be called when username exists")
	}
}

func TestIdentityService_CreateUser_CheckError(t *testing.T) {
	dbError := errors.New("database connection failed")
	mockRepo := &mockUserRepository{
		getByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, dbError
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	_, err := svc.CreateUser(context.Background(), &model.CreateUserRequest{
		Name:     "John Doe",
		Username: "JohnDoe",
		Email:    "John@gmail.com",
		Password: "password123",
	})

	if !errors.Is(err, dbError) {
		t.Errorf("error should wrap the lookup failure, got: %v", err)
	}
}

func TestIdentityService_CreateUser_StoreBackstop(t *testing.T) {
	// A concurrent create can slip past the pre-check; the unique-index
	// violation surfaces as the same sentinel.
	mockRepo := &mockUserRepository{
		createFn: func(ctx context.Context, user *model.User) error {
			return model.ErrUsernameExists
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	_, err := svc.CreateUser(context.Background(), &model.CreateUserRequest{
		Name:     "John Doe",
		Username: "JohnDoe",
		Email:    "John@gmail.com",
		Password: "password123",
	})

	if !errors.Is(err, model.ErrUsernameExists) {
		t.Errorf("error = %v, want %v", err, model.ErrUsernameExists)
	}
}

// =============================================================================
// UPDATE / DELETE TESTS
// =============================================================================

func TestIdentityService_UpdateUser_NotFound(t *testing.T) {
	mockRepo := &mockUserRepository{}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	name := "New Name"
	_, err := svc.UpdateUser(context.Background(), 999, &model.UserUpdate{Name: &name})

	if !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("error = %v, want %v", err, model.ErrUserNotFound)
	}
	if len(mockRepo.updateCalls) != 0 {
		t.Error("Update should not be called for a missing user")
	}
}

func TestIdentityService_DeleteUser_NotFound(t *testing.T) {
	mockRepo := &mockUserRepository{}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	_, err := svc.DeleteUser(context.Background(), 999)

	if !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("error = %v, want %v", err, model.ErrUserNotFound)
	}
	if len(mockRepo.deleteCalls) != 0 {
		t.Error("Delete should not be called for a missing user")
	}
}

func TestIdentityService_DeleteUser_Success(t *testing.T) {
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	deleted, err := svc.DeleteUser(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted.ID != 5 {
		t.Errorf("deleted id = %d, want 5", deleted.ID)
	}
}

// =============================================================================
// FOLLOW / UNFOLLOW TESTS
// =============================================================================

func TestIdentityService_Follow(t *testing.T) {
	existing := func(ctx context.Context, id int64) (*model.User, error) {
		return &model.User{ID: id}, nil
	}

	tests := []struct {
		name          string
		userID        int64
		targetID      int64
		getByIDFn     func(ctx context.Context, id int64) (*model.User, error)
		wantErr       error
		wantMutations []string
	}{
		{
			name:      "successful follow runs both sides in order",
			userID:    1,
			targetID:  2,
			getByIDFn: existing,
			wantMutations: []string{
				mutation("following+", 1, 2),
				mutation("followers+", 2, 1),
			},
		},
		{
			name:     "target does not exist",
			userID:   1,
			targetID: 999,
			wantErr:  model.ErrUserNotFound,
		},
		{
			name:      "self follow rejected",
			userID:    1,
			targetID:  1,
			getByIDFn: existing,
			wantErr:   model.ErrCannotFollowSelf,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &mockUserRepository{getByIDFn: tt.getByIDFn}
			pub := &mockPublisher{}
			svc := newTestService(mockRepo, &mockImageHost{}, pub)

			user, err := svc.Follow(context.Background(), tt.userID, tt.targetID)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if len(mockRepo.mutations) != 0 {
					t.Errorf("no mutations expected, got %v", mockRepo.mutations)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !user.IsFollowing(tt.targetID) {
				t.Error("returned record should reflect the first mutation")
			}
			if len(mockRepo.mutations) != len(tt.wantMutations) {
				t.Fatalf("mutations = %v, want %v", mockRepo.mutations, tt.wantMutations)
			}
			for i := range tt.wantMutations {
				if mockRepo.mutations[i] != tt.wantMutations[i] {
					t.Errorf("mutation[%d] = %q, want %q", i, mockRepo.mutations[i], tt.wantMutations[i])
				}
			}
			if len(pub.events) != 1 || pub.events[0].Type != queue.EventUserFollowed {
				t.Errorf("expected one user_followed event, got %v", pub.events)
			}
		})
	}
}

func TestIdentityService_Follow_PartialFailure(t *testing.T) {
	// The two mutations are not atomic: when the second fails the first
	// stays applied and the event still reaches the reconciler.
	mirrorErr := errors.New("connection reset")
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		addToFollowersFn: func(ctx context.Context, userID, targetID int64) (*model.User, error) {
			return nil, mirrorErr
		},
	}
	pub := &mockPublisher{}
	svc := newTestService(mockRepo, &mockImageHost{}, pub)

	_, err := svc.Follow(context.Background(), 1, 2)

	if !errors.Is(err, mirrorErr) {
		t.Fatalf("error = %v, want wrapped %v", err, mirrorErr)
	}
	if len(mockRepo.mutations) == 0 || mockRepo.mutations[0] != mutation("following+", 1, 2) {
		t.Errorf("first mutation should have been applied, got %v", mockRepo.mutations)
	}
	if len(pub.events) != 1 || pub.events[0].Type != queue.EventUserFollowed {
		t.Error("event should still be published so the reconciler can repair the mirror side")
	}
}

func TestIdentityService_Follow_PublishFailureIgnored(t *testing.T) {
	// Event publishing is best-effort; a broken stream must not fail the
	// request.
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	pub := &mockPublisher{err: errors.New("stream unavailable")}
	svc := newTestService(mockRepo, &mockImageHost{}, pub)

	if _, err := svc.Follow(context.Background(), 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIdentityService_Unfollow_NotCurrentlyFollowed(t *testing.T) {
	// Removing an absent id is a no-op at the store, so a repeated unfollow
	// succeeds rather than erroring.
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	user, err := svc.Unfollow(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.IsFollowing(2) {
		t.Error("target should not be in following after unfollow")
	}

	want := []string{
		mutation("following-", 1, 2),
		mutation("followers-", 2, 1),
	}
	if len(mockRepo.mutations) != len(want) {
		t.Fatalf("mutations = %v, want %v", mockRepo.mutations, want)
	}
	for i := range want {
		if mockRepo.mutations[i] != want[i] {
			t.Errorf("mutation[%d] = %q, want %q", i, mockRepo.mutations[i], want[i])
		}
	}
}

func TestIdentityService_GetFollowers(t *testing.T) {
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id, Followers: []int64{2, 3}}, nil
		},
	}
	svc := newTestService(mockRepo, &mockImageHost{}, &mockPublisher{})

	followers, err := svc.GetFollowers(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(followers) != 2 {
		t.Fatalf("followers = %d, want 2", len(followers))
	}
}

// =============================================================================
// PROFILE IMAGE TESTS
// =============================================================================

func TestIdentityService_UpdateProfileImage_NoPriorImage(t *testing.T) {
	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	images := &mockImageHost{}
	svc := newTestService(mockRepo, images, &mockPublisher{})

	_, err := svc.UpdateProfileImage(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(images.deleteCalls) != 0 {
		t.Errorf("delete should never be called without a prior image, got %v", images.deleteCalls)
	}
	if len(mockRepo.updateCalls) != 1 {
		t.Errorf("Update called %d times, want 1", len(mockRepo.updateCalls))
	}
}

func TestIdentityService_UpdateProfileImage_ReplacesOldImage(t *testing.T) {
	oldKey := "avatars/old.jpg"
	var deletesBeforeUpdate int

	mockRepo := &mockUserRepository{}
	images := &mockImageHost{}
	mockRepo.getByIDFn = func(ctx context.Context, id int64) (*model.User, error) {
		return &model.User{ID: id, AvatarKey: &oldKey}, nil
	}
	mockRepo.updateFn = func(ctx context.Context, id int64, update *model.UserUpdate) (*model.User, error) {
		deletesBeforeUpdate = len(images.deleteCalls)
		return &model.User{ID: id, AvatarURL: update.AvatarURL, AvatarKey: update.AvatarKey}, nil
	}
	svc := newTestService(mockRepo, images, &mockPublisher{})

	user, err := svc.UpdateProfileImage(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(images.deleteCalls) != 1 || images.deleteCalls[0] != oldKey {
		t.Errorf("delete calls = %v, want exactly one with %q", images.deleteCalls, oldKey)
	}
	if deletesBeforeUpdate != 1 {
		t.Error("old image must be deleted before the new reference is persisted")
	}
	if user.AvatarKey == nil || *user.AvatarKey != "avatars/new.jpg" {
		t.Errorf("avatar key = %v, want avatars/new.jpg", user.AvatarKey)
	}
}

func TestIdentityService_UpdateProfileImage_UserGoneAfterUpload(t *testing.T) {
	// The upload happens before the lookup; when the user is missing the
	// uploaded object is orphaned and handed to the reconciler.
	mockRepo := &mockUserRepository{}
	images := &mockImageHost{}
	pub := &mockPublisher{}
	svc := newTestService(mockRepo, images, pub)

	_, err := svc.UpdateProfileImage(context.Background(), 999, nil, nil)

	if !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("error = %v, want %v", err, model.ErrUserNotFound)
	}
	if len(pub.events) != 1 || pub.events[0].Type != queue.EventAvatarOrphaned {
		t.Fatalf("expected one avatar_orphaned event, got %v", pub.events)
	}
	if pub.events[0].AvatarKey != "avatars/new.jpg" {
		t.Errorf("orphaned key = %q, want the new upload's key", pub.events[0].AvatarKey)
	}
}

func TestIdentityService_UpdateProfileImage_OldDeleteFails(t *testing.T) {
	oldKey := "avatars/old.jpg"
	deleteErr := errors.New("object store unavailable")

	mockRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id, AvatarKey: &oldKey}, nil
		},
	}
	images := &mockImageHost{
		deleteFn: func(ctx context.Context, key string) error {
			return deleteErr
		},
	}
	pub := &mockPublisher{}
	svc := newTestService(mockRepo, images, pub)

	_, err := svc.UpdateProfileImage(context.Background(), 1, nil, nil)

	if !errors.Is(err, deleteErr) {
		t.Fatalf("error = %v, want wrapped %v", err, deleteErr)
	}
	if len(mockRepo.updateCalls) != 0 {
		t.Error("new reference must not be persisted when the old delete fails")
	}
	if len(pub.events) != 1 || pub.events[0].Type != queue.EventAvatarOrphaned {
		t.Error("the new upload should be reported as orphaned")
	}
}
