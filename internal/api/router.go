// Package api is the HTTP surface of the game backend.
package api

import (
	"net/http"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/logger"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// Options configures the router middleware.
type Options struct {
	RequestTimeout time.Duration
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit      int
	AllowedOrigins []string
}

// NewRouter builds the chi router with every game route mounted.
func NewRouter(svc GameService, l *logger.Logger, opts Options) http.Handler {
	h := NewHandlers(svc, l)
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(l))
	r.Use(chimiddleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}

	r.Get("/", h.Root)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/exists", h.UserExists)
		r.Post("/verify-password", h.VerifyPassword)
		r.Get("/is-logged-in", h.IsLoggedIn)
		r.Get("/check-loggedin", h.CheckLoggedIn)
		r.Get("/leaderboard", h.Leaderboard)
		r.Post("/update", h.UpdateUser)
		r.Get("/score", h.Score)
		r.Post("/score", h.UpdateScore)
	})

	r.Get("/questions/{id}", h.Question)

	r.Route("/puzzles", func(r chi.Router) {
		r.Post("/update", h.UpdatePuzzle)
		r.Get("/get", h.GetPuzzle)
		r.Get("/user", h.UserPuzzles)
	})

	return r
}
