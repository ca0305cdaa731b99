package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"socialite/internal/model"
	"socialite/internal/repository"
)

// AuthService verifies credentials and issues stateless bearer tokens. No
// session state is kept server-side; the signed token is the whole session.
type AuthService struct {
	repo        repository.UserRepository
	secret      []byte
	tokenMaxAge time.Duration
}

func NewAuthService(repo repository.UserRepository, secret string, tokenMaxAgeSeconds int) *AuthService {
	return &AuthService{
		repo:        repo,
		secret:      []byte(secret),
		tokenMaxAge: time.Duration(tokenMaxAgeSeconds) * time.Second,
	}
}

// Login resolves the identifier as a username first, then as an email
// address. Any failure, including lookup errors, collapses to
// ErrInvalidCredentials so callers cannot probe which accounts exist.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*model.User, error) {
	user, err := s.repo.GetByUsername(ctx, identifier)
	if err != nil {
		user, err = s.repo.GetByEmail(ctx, identifier)
	}
	if err != nil {
		return nil, model.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHashed), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	return user, nil
}

// IssueToken signs a session token carrying the user's identifier.
func (s *AuthService) IssueToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.tokenMaxAge).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenMaxAge returns the issued-token lifetime in seconds.
func (s *AuthService) TokenMaxAge() int {
	return int(s.tokenMaxAge / time.Second)
}

// VerifyToken checks signature and expiry and resolves the encoded user
// identifier. Loading the user record (for role checks) is the caller's
// concern.
func (s *AuthService) VerifyToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, model.ErrTokenExpired
		}
		return 0, model.ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, model.ErrTokenInvalid
	}

	userIDFloat, ok := claims["user_id"].(float64)
	if !ok {
		return 0, model.ErrTokenInvalid
	}

	return int64(userIDFloat), nil
}
