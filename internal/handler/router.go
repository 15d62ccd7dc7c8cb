package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Aryan10022006/enactus/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса аукциона.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	limiter := custommiddleware.NewRateLimiter(10, 20)

	r.Route("/api", func(r chi.Router) {
		// Поток событий не проходит через gzip: ответ пишется
		// инкрементально и требует http.Flusher.
		r.Get("/stream", h.Stream)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/state", h.GetState)
			r.Get("/projects", h.GetProjects)
			r.Get("/leaderboard", h.GetLeaderboard)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/register", h.Register)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.GetMe)

				r.Group(func(r chi.Router) {
					r.Use(limiter.Middleware)
					r.Post("/projects/{projectID}/bid", h.PlaceBid)
					r.Delete("/projects/{projectID}/bid", h.RemoveBid)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/login", h.AdminLogin)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.AdminMiddleware)

					r.Post("/registration/open", h.OpenRegistration)
					r.Post("/registration/close", h.CloseRegistration)

					r.Post("/projects", h.AddProject)
					r.Post("/pitch/start", h.StartPitch)
					r.Post("/pitch/stop", h.EndPitch)

					r.Post("/wallets/distribute", h.DistributeWallets)

					r.Get("/users", h.GetUsers)
					r.Post("/users/{userID}/reset", h.ResetUserWallet)
					r.Post("/users/{userID}/team", h.SetTeamMember)
					r.Delete("/users/{userID}", h.DeleteUser)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
