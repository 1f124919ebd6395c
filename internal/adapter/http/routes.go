package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/FeedbackForge/internal/middleware"
)

// MountRoutes registers the health, well-known and API routes on r. Routes
// that spend gas through the session delegation or accept signing overrides
// require the API key whose bcrypt hash is apiKeyHash.
func MountRoutes(r chi.Router, h *Handlers, apiKeyHash string) {
	r.Get("/health", h.Health)

	r.Get("/.well-known/feedback.json", h.ExportFeedback)
	r.Get("/.well-known/agent-ids", h.AgentIDs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1"}`))
		})

		// Feedback
		r.Post("/feedback", h.SubmitFeedback)
		r.Get("/feedback", h.ListFeedback)
		r.Get("/feedback/stats", h.FeedbackStats)

		// Authorization signing
		r.Post("/feedback-auth", h.CreateFeedbackAuth)

		// Agents
		r.Get("/agents/resolve", h.ResolveAgent)

		// Delegated execution
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(apiKeyHash))
			r.Post("/feedback-auth/overrides", h.CreateFeedbackAuthWithOverrides)
			r.Post("/delegations/redeem", h.RedeemDelegation)
			r.Post("/delegations/authorize-client", h.AuthorizeClient)
		})
	})
}
