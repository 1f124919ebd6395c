package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	a2atype "github.com/a2aproject/a2a-go/a2a"

	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

// Well-known paths.
const (
	AgentCardPath       = "/.well-known/agent-card.json"
	LegacyAgentCardPath = "/.well-known/agent.json"
	RPCPath             = "/a2a"
	FeedbackPath        = "/.well-known/feedback.json"
)

// CardConfig describes the agent advertised on its card.
type CardConfig struct {
	Name        string
	Description string
	Version     string
	BaseURL     string
	Domain      string
	ChainID     int64
	TrustModels []string
}

// BuildAgentCard returns the A2A card. Each tool is advertised as a skill.
func BuildAgentCard(cfg CardConfig) *a2atype.AgentCard {
	base := strings.TrimRight(cfg.BaseURL, "/")
	names := tool.Names()
	skills := make([]a2atype.AgentSkill, 0, len(names))
	for _, n := range names {
		skills = append(skills, a2atype.AgentSkill{
			ID:          n,
			Name:        n,
			Description: tool.Description(tool.Name(n)),
			Tags:        []string{"erc-8004", "feedback"},
		})
	}
	return &a2atype.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                base + RPCPath,
		Version:            cfg.Version,
		ProtocolVersion:    "0.3.0",
		PreferredTransport: a2atype.TransportProtocolJSONRPC,
		Capabilities:       a2atype.AgentCapabilities{},
		DefaultInputModes:  []string{"application/json", "text/plain"},
		DefaultOutputModes: []string{"application/json"},
		Skills:             skills,
	}
}

// cardDocument renders card with the ERC-8004 extensions. The registration is
// omitted when this agent's identity cannot be resolved.
func cardDocument(ctx context.Context, card *a2atype.AgentCard, cfg CardConfig, resolver AgentResolver, signer chain.Account) (map[string]any, error) {
	raw, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("marshal agent card: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal agent card: %w", err)
	}

	if reg, ok := registration(ctx, cfg, resolver, signer); ok {
		doc["registrations"] = []agent.Registration{reg}
	}
	if len(cfg.TrustModels) > 0 {
		doc["trustModels"] = cfg.TrustModels
	}
	doc["FeedbackDataURI"] = strings.TrimRight(cfg.BaseURL, "/") + FeedbackPath
	return doc, nil
}

func registration(ctx context.Context, cfg CardConfig, resolver AgentResolver, signer chain.Account) (agent.Registration, bool) {
	if resolver == nil || cfg.Domain == "" {
		return agent.Registration{}, false
	}
	self, err := resolver.Resolve(ctx, cfg.Domain)
	if err != nil || self.ID == nil || self.ID.Sign() <= 0 {
		return agent.Registration{}, false
	}
	var sig []byte
	if signer != nil {
		sig, _ = signer.SignMessage(ctx, []byte(cfg.Domain))
	}
	reg := agent.NewRegistration(cfg.ChainID, self.Identity, sig)
	if len(sig) == 0 {
		reg.Signature = ""
	}
	return reg, true
}
