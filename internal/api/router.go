package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/isdelr/vidstream-be/internal/api/handlers"
	"github.com/isdelr/vidstream-be/internal/auth"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(userHandler *handlers.UserHandler, tokens *auth.Manager, corsOrigin string) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
		r.Post("/refresh-token", userHandler.RefreshToken)

		// Channel profiles are public but personalize isSubscribed when a
		// valid token is present.
		r.With(tokens.OptionalMiddleware()).Get("/channel/{username}", userHandler.Channel)

		r.Group(func(r chi.Router) {
			r.Use(tokens.Middleware())
			r.Post("/logout", userHandler.Logout)
			r.Post("/change-password", userHandler.ChangePassword)
			r.Get("/current-user", userHandler.CurrentUser)
			r.Patch("/update-account", userHandler.UpdateAccount)
			r.Patch("/avatar", userHandler.UpdateAvatar)
			r.Patch("/cover-image", userHandler.UpdateCoverImage)
		})
	})

	return r
}
