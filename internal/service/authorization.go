package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedbackauth"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
)

// AuthOverrides replace values the service would otherwise read or compute.
type AuthOverrides struct {
	IdentityRegistry *common.Address
	IndexLimit       *big.Int // clamped to uint64; skips the getLastIndex read
	ChainID          *big.Int
	Now              *time.Time
}

// AuthRequest asks for a feedback authorization letting Client rate AgentID.
type AuthRequest struct {
	AgentID    *big.Int
	Client     common.Address
	TTLSeconds int64 // zero uses the configured default
	Overrides  AuthOverrides
}

// Authorization is a signed feedback authorization and its wire encoding.
type Authorization struct {
	feedbackauth.Signed
	Encoded []byte
}

// Hex returns the 0x-prefixed wire encoding.
func (a *Authorization) Hex() string { return hexutil.Encode(a.Encoded) }

// AuthorizationService signs ERC-8004 feedback authorizations.
type AuthorizationService struct {
	registry   chain.ReputationRegistry
	signer     chain.Account
	chainID    int64
	defaultTTL time.Duration
	maxTTL     time.Duration
	events     *Events
	metrics    *cfotel.Metrics
	now        func() time.Time
}

// NewAuthorizationService creates an AuthorizationService signing with signer
// for the given reputation registry.
func NewAuthorizationService(registry chain.ReputationRegistry, signer chain.Account, chainID int64, defaultTTL time.Duration, events *Events) *AuthorizationService {
	return &AuthorizationService{
		registry:   registry,
		signer:     signer,
		chainID:    chainID,
		defaultTTL: defaultTTL,
		events:     events,
		now:        time.Now,
	}
}

// SetMaxTTL rejects requests asking for a longer validity than limit. Zero
// leaves requests uncapped.
func (s *AuthorizationService) SetMaxTTL(limit time.Duration) { s.maxTTL = limit }

// SetMetrics attaches metric instruments.
func (s *AuthorizationService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Signer returns the signing address.
func (s *AuthorizationService) Signer() common.Address { return s.signer.Address() }

// CreateAuthorization builds, signs and encodes an authorization.
func (s *AuthorizationService) CreateAuthorization(ctx context.Context, req AuthRequest) (*Authorization, error) {
	if req.AgentID == nil || req.AgentID.Sign() < 0 {
		return nil, fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if limit := int64(s.maxTTL / time.Second); limit > 0 && req.TTLSeconds > limit {
		return nil, fmt.Errorf("%w: ttlSeconds %d exceeds the maximum of %d", domain.ErrValidation, req.TTLSeconds, limit)
	}
	ctx, span := cfotel.StartAuthorizationSpan(ctx, req.AgentID.String(), req.Client.Hex())
	defer span.End()

	auth, err := s.create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil {
			s.metrics.AuthorizationsFailed.Add(ctx, 1)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AuthorizationsIssued.Add(ctx, 1)
	}

	p := auth.Payload
	s.events.Emit(ctx, messagequeue.SubjectFeedbackAuthorized, messagequeue.FeedbackAuthorizedPayload{
		AgentID:       p.AgentID.String(),
		ClientAddress: p.ClientAddress.Hex(),
		IndexLimit:    p.IndexLimit,
		Expiry:        p.Expiry,
		ChainID:       p.ChainID.Int64(),
	})
	slog.InfoContext(ctx, "feedback authorization signed",
		"agent_id", p.AgentID.String(),
		"client", p.ClientAddress.Hex(),
		"index_limit", p.IndexLimit,
		"expiry", p.Expiry,
	)
	return auth, nil
}

func (s *AuthorizationService) create(ctx context.Context, req AuthRequest) (*Authorization, error) {
	o := req.Overrides

	var identity common.Address
	if o.IdentityRegistry != nil {
		identity = *o.IdentityRegistry
	} else {
		addr, err := s.registry.IdentityRegistry(ctx)
		if err != nil {
			return nil, err
		}
		identity = addr
	}

	var (
		indexLimit uint64
		clamped    bool
	)
	if o.IndexLimit != nil {
		indexLimit, clamped = feedbackauth.ClampUint64(o.IndexLimit)
	} else {
		last, err := s.registry.LastIndex(ctx, req.AgentID, req.Client)
		if err != nil {
			return nil, err
		}
		indexLimit, clamped = feedbackauth.NextIndexLimit(last)
	}
	if clamped {
		slog.WarnContext(ctx, "index limit clamped to uint64", "agent_id", req.AgentID.String(), "index_limit", indexLimit)
	}

	now := s.now()
	if o.Now != nil {
		now = *o.Now
	}
	ttl := req.TTLSeconds
	if ttl == 0 {
		ttl = int64(s.defaultTTL / time.Second)
	}
	expiry, clamped := feedbackauth.ExpiryAt(now.Unix(), ttl)
	if clamped {
		slog.WarnContext(ctx, "expiry clamped to uint64 range", "ttl_seconds", ttl, "expiry", expiry)
	}

	chainID := big.NewInt(s.chainID)
	if o.ChainID != nil {
		chainID = o.ChainID
	}

	payload := feedbackauth.Payload{
		AgentID:                 req.AgentID,
		ClientAddress:           req.Client,
		IndexLimit:              indexLimit,
		Expiry:                  expiry,
		ChainID:                 chainID,
		IdentityRegistryAddress: identity,
		SignerAddress:           s.signer.Address(),
	}
	digest, err := payload.Digest(s.registry.Address())
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.SignMessage(ctx, digest)
	if err != nil {
		if !errors.Is(err, domain.ErrSigning) {
			err = fmt.Errorf("%w: %w", domain.ErrSigning, err)
		}
		return nil, err
	}
	if len(sig) != feedbackauth.SignatureLength {
		return nil, fmt.Errorf("%w: signer returned %d-byte signature", domain.ErrSigning, len(sig))
	}

	signed := feedbackauth.Signed{Payload: payload, Signature: sig}
	encoded, err := signed.Bytes()
	if err != nil {
		return nil, err
	}
	return &Authorization{Signed: signed, Encoded: encoded}, nil
}

// AuthorizationView is the JSON shape returned to clients.
type AuthorizationView struct {
	FeedbackAuth     string `json:"feedbackAuth"`
	AgentID          string `json:"agentId"`
	ClientAddress    string `json:"clientAddress"`
	IndexLimit       uint64 `json:"indexLimit"`
	Expiry           uint64 `json:"expiry"`
	ChainID          string `json:"chainId"`
	IdentityRegistry string `json:"identityRegistry"`
	Signer           string `json:"signerAddress"`
	Signature        string `json:"signature"`
}

// View returns the client-facing representation.
func (a *Authorization) View() AuthorizationView {
	p := a.Payload
	return AuthorizationView{
		FeedbackAuth:     a.Hex(),
		AgentID:          p.AgentID.String(),
		ClientAddress:    p.ClientAddress.Hex(),
		IndexLimit:       p.IndexLimit,
		Expiry:           p.Expiry,
		ChainID:          p.ChainID.String(),
		IdentityRegistry: p.IdentityRegistryAddress.Hex(),
		Signer:           p.SignerAddress.Hex(),
		Signature:        hexutil.Encode(a.Signature),
	}
}
