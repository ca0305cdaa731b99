package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"socialite/internal/handler"
	"socialite/internal/httputil"
	"socialite/internal/model"
	authmw "socialite/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler *handler.AuthHandler
	UserHandler *handler.UserHandler
	Verifier    authmw.TokenVerifier
	UserLoader  authmw.UserLoader
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Public routes - no authentication required
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", cfg.AuthHandler.Signup)
		r.Post("/login", cfg.AuthHandler.Login)
	})

	r.Route("/users", func(r chi.Router) {
		// Authenticated, any role
		r.Group(func(r chi.Router) {
			r.Use(authmw.Auth(cfg.Verifier))
			r.Patch("/profile-picture-upload", cfg.UserHandler.UpdateProfileImage)
			r.Post("/{id}/follow", cfg.UserHandler.Follow)
			r.Delete("/{id}/follow", cfg.UserHandler.Unfollow)
		})

		// Public reads
		r.Get("/{id}", cfg.UserHandler.Get)
		r.Get("/{id}/followers", cfg.UserHandler.GetFollowers)
		r.Get("/{id}/following", cfg.UserHandler.GetFollowing)

		// Admin only
		r.Group(func(r chi.Router) {
			r.Use(authmw.Auth(cfg.Verifier))
			r.Use(authmw.RequireRole(cfg.UserLoader, model.RoleAdmin))
			r.Post("/", cfg.UserHandler.Create)
			r.Get("/", cfg.UserHandler.List)
			r.Patch("/{id}", cfg.UserHandler.Update)
			r.Delete("/{id}", cfg.UserHandler.Delete)
		})
	})

	// Logged-in user's own profile
	r.Route("/me", func(r chi.Router) {
		r.Use(authmw.Auth(cfg.Verifier))
		r.Get("/", cfg.AuthHandler.Me)
		r.Patch("/", cfg.AuthHandler.UpdateMe)
		r.Delete("/", cfg.AuthHandler.DeleteMe)
	})

	return r
}
