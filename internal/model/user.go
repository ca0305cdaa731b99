package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Roles a user record can carry. Role gates the admin-only endpoints.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a user in the system. The password hash and the avatar
// object key never leave the server.
type User struct {
	ID             int64         `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	Username       string        `db:"username" json:"username"`
	Email          string        `db:"email" json:"email"`
	PasswordHashed string        `db:"password_hashed" json:"-"`
	AvatarURL      *string       `db:"avatar_url" json:"avatar_url"`
	AvatarKey      *string       `db:"avatar_key" json:"-"`
	Bio            *string       `db:"bio" json:"bio"`
	Role           string        `db:"role" json:"role"`
	Active         bool          `db:"active" json:"active"`
	Followers      pq.Int64Array `db:"followers" json:"followers"`
	Following      pq.Int64Array `db:"following" json:"following"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// IsFollowing reports whether targetID is in the user's following set.
func (u *User) IsFollowing(targetID int64) bool {
	for _, id := range u.Following {
		if id == targetID {
			return true
		}
	}
	return false
}

// IsFollowedBy reports whether followerID is in the user's followers set.
func (u *User) IsFollowedBy(followerID int64) bool {
	for _, id := range u.Followers {
		if id == followerID {
			return true
		}
	}
	return false
}

// UserUpdate carries a partial update. Nil fields are left untouched.
// Username and email are business keys; changing them here bypasses the
// service-level uniqueness pre-check and relies on the store's unique
// indexes alone.
type UserUpdate struct {
	Name      *string `json:"name" validate:"omitempty,min=1"`
	Username  *string `json:"username" validate:"omitempty,min=3,alphanum"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Bio       *string `json:"bio"`
	Role      *string `json:"role" validate:"omitempty,oneof=user admin"`
	Active    *bool   `json:"active"`
	AvatarURL *string `json:"-"`
	AvatarKey *string `json:"-"`
}

// IsZero reports whether the update carries no changes at all.
func (u *UserUpdate) IsZero() bool {
	return u.Name == nil && u.Username == nil && u.Email == nil &&
		u.Bio == nil && u.Role == nil && u.Active == nil &&
		u.AvatarURL == nil && u.AvatarKey == nil
}

// CreateUserRequest represents the data needed to create a user, either by
// an admin or through signup.
type CreateUserRequest struct {
	Name            string `json:"name" validate:"required"`
	Username        string `json:"username" validate:"required,min=3,alphanum"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Bio             string `json:"bio"`
	Role            string `json:"role" validate:"omitempty,oneof=user admin"`
}

// LoginRequest represents the data needed to log in. Login accepts either a
// username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	User      *User  `json:"user"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Pagination describes the applied window on a list response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Count int `json:"count"`
}

// UserListResponse is the paginated admin listing payload.
type UserListResponse struct {
	Users    []User     `json:"users"`
	Paginate Pagination `json:"paginate"`
}

// Error codes for HTTP responses beyond the generic httputil set.
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("no user found")

	// ErrUsernameExists is returned when the username business key is taken
	ErrUsernameExists = errors.New("username already in use")

	// ErrEmailExists is returned when the email business key is taken
	ErrEmailExists = errors.New("email already exists")

	// ErrInvalidCredentials is returned when login credentials are incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCannotFollowSelf is returned when a user tries to follow themselves
	ErrCannotFollowSelf = errors.New("cannot follow yourself")

	// ErrTokenExpired is returned when a session token is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned when a session token fails verification
	ErrTokenInvalid = errors.New("invalid token")
)

// EmailExistsMessage renders the conflict message for a taken email address.
func EmailExistsMessage(email string) string {
	return fmt.Sprintf("E-Mail address %s is already exists, please pick a different one.", email)
}

// UsernameExistsMessage is the conflict message for a taken username.
const UsernameExistsMessage = "Username already in use"
