package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// IdentityRegistration is the outcome of EnsureIdentity. Created is false
// when the account was registered before the call.
type IdentityRegistration struct {
	Identity   agent.Identity  `json:"identity"`
	Created    bool            `json:"created"`
	UserOpHash common.Hash     `json:"userOpHash,omitempty"`
	Receipt    *userop.Receipt `json:"receipt,omitempty"`
}

// RegistrationService registers the submitting smart account with the
// ERC-8004 identity registry through a sponsored user-operation.
type RegistrationService struct {
	identity  chain.IdentityRegistry
	submitter *Submitter
	attempts  int
	retryWait time.Duration
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(identity chain.IdentityRegistry, submitter *Submitter) *RegistrationService {
	return &RegistrationService{identity: identity, submitter: submitter, attempts: 3, retryWait: 500 * time.Millisecond}
}

// EnsureIdentity returns the agent registered for the submitter's account and
// calls newAgent(agentDomain, account) when there is none. Registration is a
// direct call from the account, not a delegation redemption. A failed lookup
// that is not domain.ErrNotFound aborts without sending anything.
func (s *RegistrationService) EnsureIdentity(ctx context.Context, agentDomain string) (*IdentityRegistration, error) {
	agentDomain = strings.TrimSpace(agentDomain)
	if agentDomain == "" {
		return nil, fmt.Errorf("%w: agent domain is required", domain.ErrValidation)
	}
	account := s.submitter.Sender()

	existing, err := s.identity.ResolveByAddress(ctx, account)
	switch {
	case err == nil:
		if existing.Domain != agentDomain {
			slog.WarnContext(ctx, "account registered under another domain",
				"account", account.Hex(), "registered_domain", existing.Domain, "domain", agentDomain)
		}
		slog.InfoContext(ctx, "agent already registered", "agent_id", existing.ID.String(), "account", account.Hex())
		return &IdentityRegistration{Identity: existing}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("resolve %s: %w", account.Hex(), err)
	}

	callData, err := agent.EncodeNewAgent(agentDomain, account)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "registering agent", "domain", agentDomain, "account", account.Hex(), "registry", s.identity.Address().Hex())
	hash, err := s.submitter.Submit(ctx, []delegation.Execution{{
		Target:   s.identity.Address(),
		Value:    new(big.Int),
		CallData: callData,
	}})
	if err != nil {
		return nil, err
	}
	out := &IdentityRegistration{Created: true, UserOpHash: hash}

	receipt, err := s.submitter.AwaitReceipt(ctx, hash)
	if err != nil {
		return out, err
	}
	out.Receipt = receipt
	if !receipt.Success {
		return out, fmt.Errorf("%w: newAgent user-operation %s reverted: %s", domain.ErrSubmission, hash.Hex(), receipt.Reason)
	}

	for i := 0; i < s.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(s.retryWait):
			}
		}
		if out.Identity, err = s.identity.ResolveByAddress(ctx, account); err == nil {
			slog.InfoContext(ctx, "agent registered", "agent_id", out.Identity.ID.String(), "domain", agentDomain, "user_op_hash", hash.Hex())
			return out, nil
		}
	}
	slog.WarnContext(ctx, "registered agent not resolvable yet", "account", account.Hex(), "user_op_hash", hash.Hex(), "error", err)
	out.Identity = agent.Identity{Domain: agentDomain, Address: account}
	return out, nil
}
