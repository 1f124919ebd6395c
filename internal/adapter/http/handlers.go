package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/service"
)

// Handlers holds the services behind the HTTP routes. Auth, Redemption and
// Directory may be nil; their routes then answer 424.
type Handlers struct {
	Feedback   *service.FeedbackService
	Auth       *service.AuthorizationService
	Redemption *service.RedemptionService
	Directory  *service.AgentDirectory
	SelfDomain string            // resolved when a request omits the agent id
	Peers      map[string]string // name -> domain for /.well-known/agent-ids
	Checks     map[string]func(context.Context) error
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

// SubmitFeedback handles POST /api/v1/feedback.
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[feedback.SubmitRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Feedback.Submit(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "feedback submission failed", "error", err)
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListFeedback handles GET /api/v1/feedback[?domain=].
func (h *Handlers) ListFeedback(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Feedback.List(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		writeDomainError(w, err, "feedback not found")
		return
	}
	if recs == nil {
		recs = []feedback.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// FeedbackStats handles GET /api/v1/feedback/stats[?domain=a&domain=b].
func (h *Handlers) FeedbackStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Feedback.Stats(r.Context(), r.URL.Query()["domain"]...)
	if err != nil {
		writeDomainError(w, err, "feedback not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ExportFeedback handles GET /.well-known/feedback.json.
func (h *Handlers) ExportFeedback(w http.ResponseWriter, r *http.Request) {
	out, err := h.Feedback.Export(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Feedback authorization
// ---------------------------------------------------------------------------

type authOverridesRequest struct {
	IdentityRegistry string `json:"identityRegistry"`
	IndexLimit       string `json:"indexLimit"`
	ChainID          string `json:"chainId"`
	Now              *int64 `json:"now"` // unix seconds
}

type createAuthRequest struct {
	AgentID       string               `json:"agentId"`
	ClientAddress string               `json:"clientAddress"`
	TTLSeconds    int64                `json:"ttlSeconds"`
	Overrides     authOverridesRequest `json:"overrides"`
}

// CreateFeedbackAuth handles POST /api/v1/feedback-auth. Overrides are
// rejected on this route.
func (h *Handlers) CreateFeedbackAuth(w http.ResponseWriter, r *http.Request) {
	h.createFeedbackAuth(w, r, false)
}

// CreateFeedbackAuthWithOverrides handles POST /api/v1/feedback-auth/overrides,
// which sits behind the API key.
func (h *Handlers) CreateFeedbackAuthWithOverrides(w http.ResponseWriter, r *http.Request) {
	h.createFeedbackAuth(w, r, true)
}

func (h *Handlers) createFeedbackAuth(w http.ResponseWriter, r *http.Request, allowOverrides bool) {
	if h.Auth == nil {
		writeDomainError(w, fmt.Errorf("%w: feedback authorization signer is not configured", domain.ErrConfig), "")
		return
	}
	body, ok := readJSON[createAuthRequest](w, r)
	if !ok || !requireField(w, body.ClientAddress, "clientAddress") {
		return
	}
	if !allowOverrides && body.Overrides != (authOverridesRequest{}) {
		writeError(w, http.StatusBadRequest, "overrides require /api/v1/feedback-auth/overrides")
		return
	}
	req, err := h.authRequest(r.Context(), body)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	auth, err := h.Auth.CreateAuthorization(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, auth.View())
}

func (h *Handlers) authRequest(ctx context.Context, body createAuthRequest) (service.AuthRequest, error) {
	client, err := service.ParseAddress(body.ClientAddress)
	if err != nil {
		return service.AuthRequest{}, err
	}
	req := service.AuthRequest{Client: client, TTLSeconds: body.TTLSeconds}

	switch {
	case body.AgentID != "":
		if req.AgentID, err = service.ParseAgentID(body.AgentID); err != nil {
			return req, err
		}
	case h.Directory != nil && h.SelfDomain != "":
		self, err := h.Directory.Resolve(ctx, h.SelfDomain)
		if err != nil {
			return req, err
		}
		req.AgentID = self.ID
	default:
		return req, fmt.Errorf("%w: agentId is required", domain.ErrValidation)
	}

	o := body.Overrides
	if o.IdentityRegistry != "" {
		addr, err := service.ParseAddress(o.IdentityRegistry)
		if err != nil {
			return req, err
		}
		req.Overrides.IdentityRegistry = &addr
	}
	if o.IndexLimit != "" {
		n, err := delegation.Quantity(o.IndexLimit).Big()
		if err != nil {
			return req, fmt.Errorf("%w: invalid indexLimit %q", domain.ErrValidation, o.IndexLimit)
		}
		req.Overrides.IndexLimit = n
	}
	if o.ChainID != "" {
		n, err := delegation.Quantity(o.ChainID).Big()
		if err != nil || n.Sign() == 0 {
			return req, fmt.Errorf("%w: invalid chainId %q", domain.ErrValidation, o.ChainID)
		}
		req.Overrides.ChainID = n
	}
	if o.Now != nil {
		now := time.Unix(*o.Now, 0)
		req.Overrides.Now = &now
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Delegated execution
// ---------------------------------------------------------------------------

type redeemRequest struct {
	Target     string                 `json:"target"`
	Value      string                 `json:"value"`
	CallData   hexutil.Bytes          `json:"callData"`
	Delegation *delegation.Delegation `json:"delegation"`
	Wait       bool                   `json:"wait"`
}

// RedeemDelegation handles POST /api/v1/delegations/redeem.
func (h *Handlers) RedeemDelegation(w http.ResponseWriter, r *http.Request) {
	if h.Redemption == nil {
		writeDomainError(w, fmt.Errorf("%w: no session package loaded", domain.ErrConfig), "")
		return
	}
	body, ok := readJSON[redeemRequest](w, r)
	if !ok {
		return
	}
	req := service.RedeemRequest{CallData: body.CallData, Delegation: body.Delegation, Wait: body.Wait}
	if body.Target != "" {
		target, err := service.ParseAddress(body.Target)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}
		req.Target = target
	}
	if body.Value != "" {
		v, err := delegation.Quantity(body.Value).Big()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid value")
			return
		}
		req.Value = v
	}

	res, err := h.Redemption.Redeem(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	status := http.StatusAccepted
	if res.Receipt != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type authorizeClientRequest struct {
	ClientAgentID string `json:"clientAgentId"`
	ServerAgentID string `json:"serverAgentId"`
}

// AuthorizeClient handles POST /api/v1/delegations/authorize-client: it
// redeems the session delegation to call acceptFeedback on chain.
func (h *Handlers) AuthorizeClient(w http.ResponseWriter, r *http.Request) {
	if h.Redemption == nil {
		writeDomainError(w, fmt.Errorf("%w: no session package loaded", domain.ErrConfig), "")
		return
	}
	body, ok := readJSON[authorizeClientRequest](w, r)
	if !ok || !requireField(w, body.ClientAgentID, "clientAgentId") || !requireField(w, body.ServerAgentID, "serverAgentId") {
		return
	}
	client, err := service.ParseAgentID(body.ClientAgentID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	server, err := service.ParseAgentID(body.ServerAgentID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	out, err := h.Redemption.AuthorizeClient(r.Context(), client, server)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// AgentIDs handles GET /.well-known/agent-ids. Peers that cannot be resolved
// are reported as null.
func (h *Handlers) AgentIDs(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*service.ResolvedAgent, len(h.Peers))
	if h.Directory == nil {
		for name := range h.Peers {
			out[name] = nil
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	names := make([]string, 0, len(h.Peers))
	for name := range h.Peers {
		names = append(names, name)
	}
	results := make([]*service.ResolvedAgent, len(names))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			a, err := h.Directory.Resolve(ctx, h.Peers[name])
			if err != nil {
				slog.WarnContext(ctx, "peer agent not resolved", "peer", name, "domain", h.Peers[name], "error", err)
				return nil
			}
			results[i] = &a
			return nil
		})
	}
	_ = g.Wait()
	for i, name := range names {
		out[name] = results[i]
	}
	writeJSON(w, http.StatusOK, out)
}

// ResolveAgent handles GET /api/v1/agents/resolve?domain=.
func (h *Handlers) ResolveAgent(w http.ResponseWriter, r *http.Request) {
	if h.Directory == nil {
		writeDomainError(w, fmt.Errorf("%w: agent directory is not configured", domain.ErrConfig), "")
		return
	}
	d := r.URL.Query().Get("domain")
	if !requireField(w, d, "domain") {
		return
	}
	a, err := h.Directory.Resolve(r.Context(), d)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Signer     string            `json:"signer,omitempty"`
}

// Health handles GET /health. It answers 503 when any check fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res := healthStatus{Status: "ok", Components: make(map[string]string, len(h.Checks))}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			res.Status = "degraded"
			res.Components[name] = err.Error()
			continue
		}
		res.Components[name] = "ok"
	}
	if h.Auth != nil {
		res.Signer = h.Auth.Signer().Hex()
	}
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}
