package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"socialite/internal/httputil"
	"socialite/internal/model"
	"socialite/internal/service"
	"socialite/internal/transport/http/middleware"
	"socialite/internal/validation"
)

// AuthHandler groups auth-related HTTP endpoints and their dependencies.
type AuthHandler struct {
	identity *service.IdentityService
	auth     *service.AuthService
}

// NewAuthHandler wires dependencies for authentication endpoints.
func NewAuthHandler(identity *service.IdentityService, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		auth:     auth,
	}
}

// Signup handles self-service registration
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Role is never taken from the signup body
	req.Role = model.RoleUser

	if details := validation.Struct(&req); details != nil {
		httputil.WriteValidationFailed(w, details)
		return
	}

	user, err := h.identity.CreateUser(r.Context(), &req)
	if err != nil {
		writeCreateUserError(w, &req, err)
		return
	}

	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		httputil.WriteInternalError(w, "Failed to generate token")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, model.AuthResponse{
		User:      user,
		Token:     token,
		ExpiresIn: h.auth.TokenMaxAge(),
	})
}

// Login handles user login with a username or email identifier
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := validation.Struct(&req); details != nil {
		httputil.WriteValidationFailed(w, details)
		return
	}

	user, err := h.auth.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "Invalid username or password")
			return
		}
		httputil.WriteInternalError(w, "Failed to login")
		return
	}

	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		httputil.WriteInternalError(w, "Failed to generate token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.AuthResponse{
		User:      user,
		Token:     token,
		ExpiresIn: h.auth.TokenMaxAge(),
	})
}

// Me returns the currently authenticated user
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	user, err := h.identity.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, "No user found")
			return
		}
		httputil.WriteInternalError(w, "Failed to get user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// UpdateMe applies a partial update to the authenticated user's own profile.
// Role and active are never taken from the body on this route.
// PATCH /me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var update model.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	update.Role = nil
	update.Active = nil

	if details := validation.Struct(&update); details != nil {
		httputil.WriteValidationFailed(w, details)
		return
	}

	user, err := h.identity.UpdateUser(r.Context(), userID, &update)
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

// DeleteMe removes the authenticated user's own account.
// DELETE /me
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if _, err := h.identity.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, "No user found")
			return
		}
		httputil.WriteInternalError(w, "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeCreateUserError maps creation conflicts to their response messages.
// The email conflict wins when both keys collide because the service checks
// email first.
func writeCreateUserError(w http.ResponseWriter, req *model.CreateUserRequest, err error) {
	switch {
	case errors.Is(err, model.ErrEmailExists):
		httputil.WriteConflict(w, model.EmailExistsMessage(req.Email))
	case errors.Is(err, model.ErrUsernameExists):
		httputil.WriteConflict(w, model.UsernameExistsMessage)
	default:
		httputil.WriteInternalError(w, "Failed to create user")
	}
}
