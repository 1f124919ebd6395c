package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedbackauth"
	"github.com/Strob0t/FeedbackForge/internal/domain/session"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// RedeemRequest describes one call made on the delegator's behalf.
type RedeemRequest struct {
	Target     common.Address // zero means the session's reputation registry
	Value      *big.Int
	CallData   []byte
	Delegation *delegation.Delegation // nil uses the session's signed delegation
	Wait       bool                   // block until the receipt arrives
}

// RedeemResult reports a submitted redemption.
type RedeemResult struct {
	UserOpHash common.Hash     `json:"userOpHash"`
	Receipt    *userop.Receipt `json:"receipt,omitempty"`
}

// ClientAuthorization is the outcome of authorizing a client agent on chain.
type ClientAuthorization struct {
	ClientID       *big.Int        `json:"clientAgentId"`
	ServerID       *big.Int        `json:"serverAgentId"`
	UserOpHash     common.Hash     `json:"userOpHash"`
	Receipt        *userop.Receipt `json:"receipt"`
	FeedbackAuthID string          `json:"feedbackAuthId,omitempty"`
	// AlreadyAuthorized is set when the pair was authorized before the call
	// and no user-operation was sent.
	AlreadyAuthorized bool `json:"alreadyAuthorized,omitempty"`
}

// RedemptionService redeems the session delegation through the delegation
// manager: session package, then redeem encoding, then sponsored submission.
type RedemptionService struct {
	pkg       *session.Package
	submitter *Submitter
	registry  chain.ReputationRegistry
	now       func() time.Time
}

// NewRedemptionService creates a RedemptionService. registry is only needed
// for AuthorizeClient and may be nil.
func NewRedemptionService(pkg *session.Package, submitter *Submitter, registry chain.ReputationRegistry) *RedemptionService {
	return &RedemptionService{pkg: pkg, submitter: submitter, registry: registry, now: time.Now}
}

// Redeem submits a redeemDelegations call executing req.
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	if !s.pkg.ActiveAt(s.now()) {
		return nil, fmt.Errorf("%w: session key is outside its validity window", domain.ErrConfig)
	}
	target := req.Target
	if target == (common.Address{}) {
		target = common.HexToAddress(s.pkg.ReputationRegistryAddress)
	}
	sel := s.pkg.Selector()
	if len(req.CallData) < 4 || !bytes.Equal(req.CallData[:4], sel[:]) {
		return nil, fmt.Errorf("%w: delegation only covers selector 0x%x", domain.ErrValidation, sel)
	}
	d := s.pkg.SignedDelegation
	if req.Delegation != nil {
		d = *req.Delegation
	}
	normalized, err := delegation.Normalize(d)
	if err != nil {
		return nil, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	ctx, span := cfotel.StartRedemptionSpan(ctx, normalized.Delegator, target.Hex())
	defer span.End()

	redeem, err := delegation.EncodeRedeem([]delegation.Delegation{normalized}, delegation.Execution{
		Target:   target,
		Value:    value,
		CallData: req.CallData,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hash, err := s.submitter.Submit(ctx, []delegation.Execution{{
		Target:   s.pkg.DelegationManager(),
		Value:    new(big.Int),
		CallData: redeem,
	}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res := &RedeemResult{UserOpHash: hash}
	if !req.Wait {
		return res, nil
	}

	receipt, err := s.submitter.AwaitReceipt(ctx, hash)
	if err != nil {
		return res, err
	}
	res.Receipt = receipt
	if !receipt.Success {
		err := fmt.Errorf("%w: user-operation %s reverted: %s", domain.ErrSubmission, hash.Hex(), receipt.Reason)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// AuthorizeClient redeems the delegation to call acceptFeedback(clientID,
// serverID), waits for inclusion and reads back the feedback auth id. A pair
// the registry already reports as authorized is returned as is, without
// sending a user-operation.
func (s *RedemptionService) AuthorizeClient(ctx context.Context, clientID, serverID *big.Int) (*ClientAuthorization, error) {
	if s.registry != nil {
		ok, id, err := s.registry.IsFeedbackAuthorized(ctx, clientID, serverID)
		if err != nil {
			return nil, fmt.Errorf("check existing authorization: %w", err)
		}
		if ok {
			out := &ClientAuthorization{ClientID: clientID, ServerID: serverID, AlreadyAuthorized: true}
			if id != ([32]byte{}) {
				out.FeedbackAuthID = common.Hash(id).Hex()
			}
			slog.InfoContext(ctx, "client already authorized for feedback",
				"client_agent_id", clientID.String(),
				"server_agent_id", serverID.String(),
			)
			return out, nil
		}
	}

	callData, err := feedbackauth.EncodeAcceptFeedback(clientID, serverID)
	if err != nil {
		return nil, err
	}
	res, err := s.Redeem(ctx, RedeemRequest{CallData: callData, Wait: true})
	if err != nil {
		return nil, err
	}
	out := &ClientAuthorization{
		ClientID:   clientID,
		ServerID:   serverID,
		UserOpHash: res.UserOpHash,
		Receipt:    res.Receipt,
	}
	if s.registry == nil {
		return out, nil
	}

	ok, id, err := s.registry.IsFeedbackAuthorized(ctx, clientID, serverID)
	if err != nil {
		slog.WarnContext(ctx, "feedback authorization read-back failed", "client_agent_id", clientID.String(), "error", err)
		return out, nil
	}
	if ok && id != ([32]byte{}) {
		out.FeedbackAuthID = common.Hash(id).Hex()
	}
	slog.InfoContext(ctx, "client authorized for feedback",
		"client_agent_id", clientID.String(),
		"server_agent_id", serverID.String(),
		"authorized", ok,
	)
	return out, nil
}
