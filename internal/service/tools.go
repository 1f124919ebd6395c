package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
)

// ToolService executes typed tool calls.
type ToolService struct {
	feedback   *FeedbackService
	auth       *AuthorizationService
	directory  *AgentDirectory
	selfDomain string
}

// NewToolService creates a ToolService. auth and directory may be nil, in
// which case the tools needing them fail with domain.ErrConfig. selfDomain is
// this agent's domain, used when a call omits the agent id.
func NewToolService(fb *FeedbackService, auth *AuthorizationService, directory *AgentDirectory, selfDomain string) *ToolService {
	return &ToolService{feedback: fb, auth: auth, directory: directory, selfDomain: selfDomain}
}

// Invoke parses and dispatches a named tool call.
func (s *ToolService) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	call, err := tool.Parse(name, args)
	if err != nil {
		return nil, err
	}
	return s.Dispatch(ctx, call)
}

// Dispatch runs call and returns its JSON-serializable result.
func (s *ToolService) Dispatch(ctx context.Context, call tool.Call) (any, error) {
	switch c := call.(type) {
	case tool.RequestFeedbackAuth:
		return s.requestFeedbackAuth(ctx, c)
	case tool.SubmitFeedback:
		res, _ := s.feedback.Submit(ctx, c.SubmitRequest)
		return res, nil
	case tool.FeedbackStats:
		if c.Domain == "" {
			return s.feedback.Stats(ctx)
		}
		return s.feedback.Stats(ctx, c.Domain)
	case tool.ResolveAgent:
		if s.directory == nil {
			return nil, fmt.Errorf("%w: agent directory is not configured", domain.ErrConfig)
		}
		return s.directory.Resolve(ctx, c.Domain)
	default:
		return nil, &tool.UnknownToolError{Name: string(call.Tool())}
	}
}

func (s *ToolService) requestFeedbackAuth(ctx context.Context, c tool.RequestFeedbackAuth) (any, error) {
	if s.auth == nil {
		return nil, fmt.Errorf("%w: feedback authorization signer is not configured", domain.ErrConfig)
	}
	client, err := ParseAddress(c.ClientAddress)
	if err != nil {
		return nil, err
	}
	agentID, err := s.agentID(ctx, c.AgentID)
	if err != nil {
		return nil, err
	}
	a, err := s.auth.CreateAuthorization(ctx, AuthRequest{AgentID: agentID, Client: client, TTLSeconds: c.TTLSeconds})
	if err != nil {
		return nil, err
	}
	return a.View(), nil
}

func (s *ToolService) agentID(ctx context.Context, explicit string) (*big.Int, error) {
	if explicit != "" {
		return ParseAgentID(explicit)
	}
	if s.directory == nil || s.selfDomain == "" {
		return nil, fmt.Errorf("%w: agentId is required", domain.ErrValidation)
	}
	self, err := s.directory.Resolve(ctx, s.selfDomain)
	if err != nil {
		return nil, err
	}
	return self.ID, nil
}
