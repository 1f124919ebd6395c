package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/strategy"
	"github.com/Strob0t/FeedbackForge/internal/port/cache"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// ResolvedAgent is an identity and the lookup that found it.
type ResolvedAgent struct {
	agent.Identity
	Source string `json:"source"`
}

// AgentDirectory resolves agent identities from the identity registry,
// caching results.
type AgentDirectory struct {
	registry chain.IdentityRegistry
	cache    cache.Cache
	ttl      time.Duration
	hints    map[string]common.Address
}

// NewAgentDirectory creates an AgentDirectory. hints maps domains to agent
// addresses for deployments whose domain lookups are unavailable.
func NewAgentDirectory(registry chain.IdentityRegistry, c cache.Cache, ttl time.Duration, hints map[string]string) (*AgentDirectory, error) {
	parsed := make(map[string]common.Address, len(hints))
	for d, addr := range hints {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: address hint for %s is not an address: %q", domain.ErrConfig, d, addr)
		}
		parsed[normalizeDomain(d)] = common.HexToAddress(addr)
	}
	return &AgentDirectory{registry: registry, cache: c, ttl: ttl, hints: parsed}, nil
}

// Resolve returns the agent registered for an agent domain.
func (d *AgentDirectory) Resolve(ctx context.Context, agentDomain string) (ResolvedAgent, error) {
	agentDomain = normalizeDomain(agentDomain)
	if agentDomain == "" {
		return ResolvedAgent{}, fmt.Errorf("%w: domain is required", domain.ErrValidation)
	}
	key := "agent:domain:" + agentDomain
	if v, ok := d.cached(ctx, key); ok {
		return v, nil
	}

	res, err := d.domainChain(agentDomain).Run(ctx)
	if err != nil {
		return ResolvedAgent{}, fmt.Errorf("resolve %s: %w", agentDomain, err)
	}
	out := ResolvedAgent{Identity: res.Value, Source: res.Source}
	d.store(ctx, key, out)
	slog.DebugContext(ctx, "agent resolved", "domain", agentDomain, "agent_id", out.ID.String(), "source", out.Source)
	return out, nil
}

// Get returns the agent with the given id.
func (d *AgentDirectory) Get(ctx context.Context, id *big.Int) (ResolvedAgent, error) {
	key := "agent:id:" + id.String()
	if v, ok := d.cached(ctx, key); ok {
		return v, nil
	}
	ident, err := d.registry.GetAgent(ctx, id)
	if err != nil {
		return ResolvedAgent{}, err
	}
	out := ResolvedAgent{Identity: ident, Source: "getAgent"}
	d.store(ctx, key, out)
	return out, nil
}

func (d *AgentDirectory) domainChain(agentDomain string) strategy.Chain[agent.Identity] {
	byMethod := func(method string) strategy.Strategy[agent.Identity] {
		return strategy.Strategy[agent.Identity]{Name: method, Run: func(ctx context.Context) (agent.Identity, error) {
			return d.registry.ResolveDomain(ctx, method, agentDomain)
		}}
	}
	return strategy.Chain[agent.Identity]{
		byMethod(chain.MethodResolveByDomain),
		byMethod(chain.MethodGetAgentByDomain),
		byMethod(chain.MethodResolveDomain),
		{Name: "resolveByAddress", Run: func(ctx context.Context) (agent.Identity, error) {
			addr, ok := d.hints[agentDomain]
			if !ok {
				return agent.Identity{}, strategy.ErrSkip
			}
			return d.registry.ResolveByAddress(ctx, addr)
		}},
	}
}

func (d *AgentDirectory) cached(ctx context.Context, key string) (ResolvedAgent, bool) {
	if d.cache == nil {
		return ResolvedAgent{}, false
	}
	v, ok, err := cache.GetJSON[ResolvedAgent](ctx, d.cache, key)
	if err != nil {
		slog.WarnContext(ctx, "agent cache read failed", "key", key, "error", err)
		return ResolvedAgent{}, false
	}
	return v, ok
}

func (d *AgentDirectory) store(ctx context.Context, key string, v ResolvedAgent) {
	if d.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, d.cache, key, v, d.ttl); err != nil {
		slog.WarnContext(ctx, "agent cache write failed", "key", key, "error", err)
	}
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
