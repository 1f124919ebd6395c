package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/strategy"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/port/feedbackstore"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
)

// Auth id strategy names, in the order they are tried.
const (
	AuthSourceRequest     = "request"
	AuthSourceAuthorized  = "isFeedbackAuthorized"
	AuthSourceRecorded    = "getFeedbackAuthId"
	AuthSourceSigned      = "signed-authorization"
	AuthSourcePlaceholder = "caip10-placeholder"
)

// statsConcurrency bounds per-domain store reads.
const statsConcurrency = 4

// FeedbackService accepts feedback submissions and serves stored feedback.
type FeedbackService struct {
	store    feedbackstore.Store
	registry chain.ReputationRegistry
	auth     *AuthorizationService
	chainID  int64
	events   *Events
	metrics  *cfotel.Metrics
}

// NewFeedbackService creates a FeedbackService. registry and auth may be nil,
// which disables the strategies that need them.
func NewFeedbackService(store feedbackstore.Store, registry chain.ReputationRegistry, auth *AuthorizationService, chainID int64, events *Events) *FeedbackService {
	return &FeedbackService{store: store, registry: registry, auth: auth, chainID: chainID, events: events}
}

// SetMetrics attaches metric instruments.
func (s *FeedbackService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Submit validates, authorizes and stores a feedback submission. The result
// always carries a status; err is non-nil exactly when the status is "error".
func (s *FeedbackService) Submit(ctx context.Context, req feedback.SubmitRequest) (feedback.SubmitResult, error) {
	ctx, span := cfotel.StartFeedbackSpan(ctx, req.Domain)
	defer span.End()

	res, err := s.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil {
			s.metrics.FeedbackRejected.Add(ctx, 1)
		}
		slog.WarnContext(ctx, "feedback rejected", "domain", req.Domain, "error", err)
		return feedback.Failed(err), err
	}
	if s.metrics != nil {
		s.metrics.FeedbackRecorded.Add(ctx, 1)
	}
	return res, nil
}

func (s *FeedbackService) submit(ctx context.Context, req feedback.SubmitRequest) (feedback.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return feedback.SubmitResult{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	rating, _ := feedback.ScaleRating(req.Rating)

	ids, err := parseSubmitIDs(req)
	if err != nil {
		return feedback.SubmitResult{}, err
	}
	authID, err := s.authIDChain(req, ids).Run(ctx)
	if err != nil {
		return feedback.SubmitResult{}, err
	}

	rec := &feedback.Record{
		FeedbackAuthID: authID.Value,
		AuthIDSource:   authID.Source,
		AgentSkillID:   req.AgentSkillID,
		TaskID:         req.TaskID,
		ContextID:      req.ContextID,
		Rating:         rating,
		Domain:         req.Domain,
		Notes:          req.Notes,
		ProofOfPayment: req.ProofOfPayment,
	}
	id, err := s.store.Add(ctx, rec)
	if err != nil {
		return feedback.SubmitResult{}, fmt.Errorf("store feedback: %w", err)
	}

	s.events.Emit(ctx, messagequeue.SubjectFeedbackRecorded, messagequeue.FeedbackRecordedPayload{
		ID:             id,
		Domain:         rec.Domain,
		Rating:         rating,
		FeedbackAuthID: rec.FeedbackAuthID,
		AuthIDSource:   rec.AuthIDSource,
	})
	slog.InfoContext(ctx, "feedback recorded", "id", id, "domain", rec.Domain, "rating", rating, "auth_id_source", authID.Source)

	return feedback.SubmitResult{
		Status:         feedback.StatusOK,
		ID:             id,
		Rating:         rating,
		FeedbackAuthID: rec.FeedbackAuthID,
		AuthIDSource:   rec.AuthIDSource,
	}, nil
}

type submitIDs struct {
	client   *big.Int
	server   *big.Int
	clientAt *common.Address
}

func parseSubmitIDs(req feedback.SubmitRequest) (submitIDs, error) {
	var ids submitIDs
	var err error
	if req.ClientAgentID != "" {
		if ids.client, err = ParseAgentID(req.ClientAgentID); err != nil {
			return ids, err
		}
	}
	if req.ServerAgentID != "" {
		if ids.server, err = ParseAgentID(req.ServerAgentID); err != nil {
			return ids, err
		}
	}
	if req.ClientAddress != "" {
		addr, err := ParseAddress(req.ClientAddress)
		if err != nil {
			return ids, err
		}
		ids.clientAt = &addr
	}
	return ids, nil
}

// authIDChain lists the ways to obtain a feedback auth id, most authoritative first.
func (s *FeedbackService) authIDChain(req feedback.SubmitRequest, ids submitIDs) strategy.Chain[string] {
	return strategy.Chain[string]{
		{Name: AuthSourceRequest, Run: func(context.Context) (string, error) {
			if req.FeedbackAuthID == "" {
				return "", strategy.ErrSkip
			}
			return req.FeedbackAuthID, nil
		}},
		{Name: AuthSourceAuthorized, Run: func(ctx context.Context) (string, error) {
			if s.registry == nil || ids.client == nil || ids.server == nil {
				return "", strategy.ErrSkip
			}
			ok, id, err := s.registry.IsFeedbackAuthorized(ctx, ids.client, ids.server)
			if err != nil {
				return "", err
			}
			if !ok || id == ([32]byte{}) {
				return "", errors.New("client is not authorized")
			}
			return common.Hash(id).Hex(), nil
		}},
		{Name: AuthSourceRecorded, Run: func(ctx context.Context) (string, error) {
			if s.registry == nil || ids.client == nil || ids.server == nil {
				return "", strategy.ErrSkip
			}
			id, err := s.registry.FeedbackAuthID(ctx, ids.client, ids.server)
			if err != nil {
				return "", err
			}
			if id == ([32]byte{}) {
				return "", errors.New("no feedback auth id recorded")
			}
			return common.Hash(id).Hex(), nil
		}},
		{Name: AuthSourceSigned, Run: func(ctx context.Context) (string, error) {
			if s.auth == nil || ids.server == nil || ids.clientAt == nil {
				return "", strategy.ErrSkip
			}
			a, err := s.auth.CreateAuthorization(ctx, AuthRequest{AgentID: ids.server, Client: *ids.clientAt})
			if err != nil {
				return "", err
			}
			return a.Hex(), nil
		}},
		{Name: AuthSourcePlaceholder, Run: func(ctx context.Context) (string, error) {
			id, fallback := agent.Placeholder(s.chainID, ids.clientAt)
			if fallback {
				slog.WarnContext(ctx, "no client address for feedback auth id, using zero-address placeholder", "placeholder", id)
			}
			return id, nil
		}},
	}
}

// List returns stored feedback, newest first, optionally for one domain.
func (s *FeedbackService) List(ctx context.Context, d string) ([]feedback.Record, error) {
	if d != "" {
		return s.store.GetByDomain(ctx, d)
	}
	return s.store.GetAll(ctx)
}

// Stats aggregates all feedback, or only the given domains.
func (s *FeedbackService) Stats(ctx context.Context, domains ...string) (feedback.Stats, error) {
	domains = uniqueSorted(domains)
	if len(domains) == 0 {
		return s.store.GetStats(ctx)
	}
	parts := make([][]feedback.Record, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for i, d := range domains {
		g.Go(func() error {
			recs, err := s.store.GetByDomain(gctx, d)
			if err != nil {
				return fmt.Errorf("stats for %s: %w", d, err)
			}
			parts[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return feedback.Stats{}, err
	}

	var all []feedback.Record
	for _, p := range parts {
		all = append(all, p...)
	}
	return feedback.ComputeStats(all), nil
}

// Export returns every record in the public export shape, newest first.
func (s *FeedbackService) Export(ctx context.Context) ([]feedback.ExportEntry, error) {
	recs, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return feedback.Export(recs), nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
