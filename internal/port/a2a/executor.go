package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	a2atype "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
	"github.com/Strob0t/FeedbackForge/internal/service"
)

// MetadataClientAgentID is the message metadata key naming the calling agent.
const MetadataClientAgentID = "client_agent_id"

// ToolDispatcher runs typed tool calls.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call tool.Call) (any, error)
}

// ClientAuthorizer records on chain that a client agent may rate a server agent.
type ClientAuthorizer interface {
	AuthorizeClient(ctx context.Context, clientID, serverID *big.Int) (*service.ClientAuthorization, error)
}

// AgentResolver resolves agent identities by domain.
type AgentResolver interface {
	Resolve(ctx context.Context, agentDomain string) (service.ResolvedAgent, error)
}

// Executor turns A2A messages carrying tool invocations into tool calls.
type Executor struct {
	tools      ToolDispatcher
	authorizer ClientAuthorizer
	resolver   AgentResolver
	selfDomain string

	anyClient bool
	allowed   map[string]bool // canonical decimal agent ids
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// NewExecutor creates an Executor. authorizer and resolver may be nil, which
// disables server-side client authorization.
func NewExecutor(tools ToolDispatcher, authorizer ClientAuthorizer, resolver AgentResolver, selfDomain string) *Executor {
	return &Executor{tools: tools, authorizer: authorizer, resolver: resolver, selfDomain: selfDomain}
}

// AllowClients enables server-side authorization for the listed client agent
// ids. "*" allows every client. Metadata from other clients is ignored, so
// without a call to AllowClients no user-operation is ever sent.
func (e *Executor) AllowClients(ids []string) error {
	allowed := make(map[string]bool, len(ids))
	anyClient := false
	for _, raw := range ids {
		if strings.TrimSpace(raw) == "*" {
			anyClient = true
			continue
		}
		id, err := service.ParseAgentID(raw)
		if err != nil {
			return err
		}
		allowed[id.String()] = true
	}
	e.anyClient, e.allowed = anyClient, allowed
	return nil
}

// Execute parses the tool invocation in the request message, dispatches it and
// reports the result as an artifact followed by a final status.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateRejected, "no message provided")
	}

	e.authorizeClient(ctx, msg)

	raw, ok := findInvocation(msg)
	if !ok {
		return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateRejected,
			"expected a data part {tool, arguments}; available tools: "+strings.Join(tool.Names(), ", "))
	}
	call, err := tool.ParseInvocation(raw)
	if err != nil {
		slog.WarnContext(ctx, "a2a tool invocation rejected", "error", err)
		return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateRejected, err.Error())
	}

	out, err := e.tools.Dispatch(ctx, call)
	if err != nil {
		slog.WarnContext(ctx, "a2a tool call failed", "tool", call.Tool(), "error", err)
		return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateFailed, err.Error())
	}

	data, err := toData(out)
	if err != nil {
		return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateFailed, err.Error())
	}
	if err := queue.Write(ctx, a2atype.NewArtifactEvent(reqCtx, a2atype.DataPart{Data: data})); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	state := a2atype.TaskStateCompleted
	if r, ok := out.(feedback.SubmitResult); ok && r.Status == feedback.StatusError {
		state = a2atype.TaskStateFailed
	}
	return writeStatus(ctx, reqCtx, queue, state, "")
}

// Cancel is not supported; tool calls complete within one request.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return writeStatus(ctx, reqCtx, queue, a2atype.TaskStateCanceled, "")
}

// authorizeClient performs the server-side feedback authorization requested
// through message metadata for allowed clients. Failures are logged and do
// not stop the call.
func (e *Executor) authorizeClient(ctx context.Context, msg *a2atype.Message) {
	v, ok := msg.Metadata[MetadataClientAgentID]
	if !ok || e.authorizer == nil || e.resolver == nil || e.selfDomain == "" {
		return
	}
	raw := strings.TrimSpace(fmt.Sprint(v))
	if raw == "" {
		return
	}
	clientID, err := service.ParseAgentID(raw)
	if err != nil {
		slog.WarnContext(ctx, "server-side feedback authorization failed", "client_agent_id", raw, "error", err)
		return
	}
	if !e.anyClient && !e.allowed[clientID.String()] {
		slog.DebugContext(ctx, "client agent not allowed for server-side authorization", "client_agent_id", clientID.String())
		return
	}
	if err := e.doAuthorize(ctx, clientID); err != nil {
		slog.WarnContext(ctx, "server-side feedback authorization failed", "client_agent_id", clientID.String(), "error", err)
	}
}

func (e *Executor) doAuthorize(ctx context.Context, clientID *big.Int) error {
	self, err := e.resolver.Resolve(ctx, e.selfDomain)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", e.selfDomain, err)
	}
	res, err := e.authorizer.AuthorizeClient(ctx, clientID, self.ID)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "server-side feedback authorization complete",
		"client_agent_id", clientID.String(), "server_agent_id", self.ID.String(),
		"user_op_hash", res.UserOpHash.Hex(), "feedback_auth_id", res.FeedbackAuthID,
		"already_authorized", res.AlreadyAuthorized)
	return nil
}

// findInvocation returns the first data part naming a tool, falling back to a
// text part holding a JSON invocation.
func findInvocation(msg *a2atype.Message) ([]byte, bool) {
	for _, p := range msg.Parts {
		var data map[string]any
		switch part := p.(type) {
		case a2atype.DataPart:
			data = part.Data
		case *a2atype.DataPart:
			data = part.Data
		}
		if _, ok := data["tool"]; ok {
			raw, err := json.Marshal(data)
			if err == nil {
				return raw, true
			}
		}
	}
	for _, p := range msg.Parts {
		var text string
		switch part := p.(type) {
		case a2atype.TextPart:
			text = part.Text
		case *a2atype.TextPart:
			text = part.Text
		}
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
			return []byte(text), true
		}
	}
	return nil, false
}

func toData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: tool result: %w", domain.ErrEncoding, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		if errors.As(err, new(*json.UnmarshalTypeError)) {
			return map[string]any{"result": json.RawMessage(raw)}, nil
		}
		return nil, fmt.Errorf("%w: tool result: %w", domain.ErrEncoding, err)
	}
	return m, nil
}

func writeStatus(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, state a2atype.TaskState, text string) error {
	var msg *a2atype.Message
	if text != "" {
		msg = a2atype.NewMessage(a2atype.MessageRoleAgent, a2atype.TextPart{Text: text})
	}
	ev := a2atype.NewStatusUpdateEvent(reqCtx, state, msg)
	ev.Final = true
	return queue.Write(ctx, ev)
}
