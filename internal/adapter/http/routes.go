package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, githubCfg config.GitHub) {
	// Webhooks live outside the API group and are authenticated by HMAC
	// signature instead.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(githubCfg.WebhookSecret, "X-Hub-Signature-256")).
			Post("/github", h.HandleGitHubWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Repositories
		r.Get("/repositories", h.ListRepositories)
		r.Post("/repositories", h.CreateRepository)
		r.Get("/repositories/{id}", h.GetRepository)
		r.Put("/repositories/{id}", h.UpdateRepository)
		r.Delete("/repositories/{id}", h.DeleteRepository)

		// Changes
		r.Get("/changes", h.ListChanges)

		// Documents
		r.Get("/documents", h.ListDocuments)
		r.Post("/documents", h.UploadDocument)
		r.Get("/documents/match", h.MatchDocuments)
		r.Get("/documents/{id}", h.GetDocument)
		r.Delete("/documents/{id}", h.DeleteDocument)
		r.Post("/index", h.RequestIndex)

		// Query
		r.Post("/query", h.AnswerQuery)

		// Status
		r.Get("/status", h.GetStatus)
	})

	// WebSocket event stream
	r.Get("/ws", h.Hub.HandleWS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
