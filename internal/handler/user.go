package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"socialite/internal/httputil"
	"socialite/internal/model"
	"socialite/internal/repository"
	"socialite/internal/service"
	"socialite/internal/transport/http/middleware"
	"socialite/internal/validation"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// UserHandler groups user management, profile image, and social graph
// endpoints.
type UserHandler struct {
	identity *service.IdentityService
}

func NewUserHandler(identity *service.IdentityService) *UserHandler {
	return &UserHandler{identity: identity}
}

// Create handles admin user creation
// POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := validation.Struct(&req); details != nil {
		httputil.WriteValidationFailed(w, details)
		return
	}

	user, err := h.identity.CreateUser(r.Context(), &req)
	if err != nil {
		writeCreateUserError(w, &req, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"user": user})
}

// List handles the paginated admin listing
// GET /users?page=&limit=&sort=&role=&active=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	params := repository.ListParams{
		Skip:  (page - 1) * limit,
		Limit: limit,
		Sort:  q.Get("sort"),
	}
	if role := q.Get("role"); role != "" {
		params.Role = &role
	}
	if activeStr := q.Get("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			httputil.WriteBadRequest(w, "Invalid active filter")
			return
		}
		params.Active = &active
	}

	users, err := h.identity.ListUsers(r.Context(), params)
	if err != nil {
		httputil.WriteInternalError(w, "Failed to list users")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.UserListResponse{
		Users: users,
		Paginate: model.Pagination{
			Page:  page,
			Limit: limit,
			Count: len(users),
		},
	})
}

// Get handles the public user lookup
// GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := h.identity.GetUser(r.Context(), id)
	if err != nil {
		writeUserError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// Update handles the admin partial update
// PATCH /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var update model.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := validation.Struct(&update); details != nil {
		httputil.WriteValidationFailed(w, details)
		return
	}

	user, err := h.identity.UpdateUser(r.Context(), id, &update)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, "No user found")
		case errors.Is(err, model.ErrEmailExists):
			httputil.WriteConflict(w, "email already exists")
		case errors.Is(err, model.ErrUsernameExists):
			httputil.WriteConflict(w, model.UsernameExistsMessage)
		default:
			httputil.WriteInternalError(w, "Failed to update user")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// Delete handles the admin delete
// DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if _, err := h.identity.DeleteUser(r.Context(), id); err != nil {
		writeUserError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateProfileImage handles the authenticated avatar replacement
// PATCH /users/profile-picture-upload
func (h *UserHandler) UpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	maxFormSize := int64(model.MaxAvatarSizeBytes) + 1024*1024 // allow form overhead
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			httputil.WriteBadRequest(w, "Content-Type must be multipart/form-data")
			return
		}
		if strings.Contains(err.Error(), "request body too large") {
			httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Image exceeds 5MB limit")
			return
		}
		httputil.WriteBadRequest(w, "Invalid form data")
		return
	}
	// Release the local temporary copy once the upload is done with it.
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("profilePicture")
	if err != nil {
		httputil.WriteBadRequest(w, "profilePicture file is required")
		return
	}
	defer file.Close()

	user, err := h.identity.UpdateProfileImage(r.Context(), userID, file, header)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrFileTooLarge):
			httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Image exceeds 5MB limit")
		case errors.Is(err, model.ErrInvalidImageType):
			httputil.WriteBadRequestWithCode(w, model.CodeInvalidImageType, "Unsupported image type. Allowed: jpeg, png, gif, webp")
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, "No user found")
		default:
			httputil.WriteInternalError(w, "Failed to update profile image")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// Follow adds the target to the acting user's following set
// POST /users/{id}/follow
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.followAction(w, r, h.identity.Follow)
}

// Unfollow removes the target from the acting user's following set
// DELETE /users/{id}/follow
func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.followAction(w, r, h.identity.Unfollow)
}

// GetFollowers lists the users following {id}
// GET /users/{id}/followers
func (h *UserHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	h.listRelations(w, r, h.identity.GetFollowers, "followers")
}

// GetFollowing lists the users {id} follows
// GET /users/{id}/following
func (h *UserHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	h.listRelations(w, r, h.identity.GetFollowing, "following")
}

func (h *UserHandler) followAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, userID, targetID int64) (*model.User, error)) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := action(r.Context(), userID, targetID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCannotFollowSelf):
			httputil.WriteBadRequest(w, "You cannot follow yourself")
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, fmt.Sprintf("There is no user with id %d", targetID))
		default:
			httputil.WriteInternalError(w, "Failed to update follow relationship")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *UserHandler) listRelations(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID int64) ([]model.User, error), key string) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	users, err := list(r.Context(), id)
	if err != nil {
		writeUserError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{key: users})
}

// userIDParam parses the {id} URL parameter, writing the 400 itself.
func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		httputil.WriteBadRequest(w, "Invalid user id")
		return 0, false
	}
	return id, true
}

func writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrUserNotFound) {
		httputil.WriteNotFound(w, "No user found")
		return
	}
	httputil.WriteInternalError(w, "Failed to load user")
}
