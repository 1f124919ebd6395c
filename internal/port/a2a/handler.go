// Package a2a serves the agent over the Agent-to-Agent protocol: the agent
// card and a JSON-RPC endpoint backed by the tool executor.
package a2a

import (
	"encoding/json"
	"log/slog"
	"net/http"

	a2atype "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// Handler serves the A2A protocol endpoints.
type Handler struct {
	cfg      CardConfig
	card     *a2atype.AgentCard
	rpc      http.Handler
	resolver AgentResolver
	signer   chain.Account
}

// NewHandler creates an A2A handler. resolver and signer may be nil; the card
// then carries no registration or no registration signature.
func NewHandler(cfg CardConfig, exec *Executor, resolver AgentResolver, signer chain.Account) *Handler {
	return &Handler{
		cfg:      cfg,
		card:     BuildAgentCard(cfg),
		rpc:      a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(exec)),
		resolver: resolver,
		signer:   signer,
	}
}

// MountRoutes registers A2A routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(AgentCardPath, h.handleAgentCard)
	r.Get(LegacyAgentCardPath, h.handleAgentCard)
	r.Handle(RPCPath, h.rpc)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	doc, err := cardDocument(r.Context(), h.card, h.cfg, h.resolver, h.signer)
	if err != nil {
		slog.ErrorContext(r.Context(), "agent card", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
