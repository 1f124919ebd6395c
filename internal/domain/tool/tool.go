// Package tool defines the closed set of tool calls the agent accepts.
package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

// Name identifies a tool.
type Name string

const (
	NameRequestFeedbackAuth Name = "request_feedback_auth"
	NameSubmitFeedback      Name = "submit_feedback"
	NameFeedbackStats       Name = "feedback_stats"
	NameResolveAgent        Name = "resolve_agent"
)

// Call is a parsed tool invocation. The set of implementations is closed.
type Call interface {
	Tool() Name
	sealed()
}

// RequestFeedbackAuth asks the agent to sign a feedback authorization for a client.
type RequestFeedbackAuth struct {
	ClientAddress string `json:"clientAddress"`
	AgentID       string `json:"agentId,omitempty"`
	TTLSeconds    int64  `json:"ttlSeconds,omitempty"`
}

// SubmitFeedback records a rating.
type SubmitFeedback struct {
	feedback.SubmitRequest
}

// FeedbackStats asks for aggregates, optionally for one domain.
type FeedbackStats struct {
	Domain string `json:"domain,omitempty"`
}

// ResolveAgent looks up an agent identity by domain.
type ResolveAgent struct {
	Domain string `json:"domain"`
}

func (RequestFeedbackAuth) Tool() Name { return NameRequestFeedbackAuth }
func (SubmitFeedback) Tool() Name      { return NameSubmitFeedback }
func (FeedbackStats) Tool() Name       { return NameFeedbackStats }
func (ResolveAgent) Tool() Name        { return NameResolveAgent }

func (RequestFeedbackAuth) sealed() {}
func (SubmitFeedback) sealed()      {}
func (FeedbackStats) sealed()       {}
func (ResolveAgent) sealed()        {}

// UnknownToolError is returned for tool names outside the closed set.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(Names(), ", "))
}

const addressPattern = `^0x[0-9a-fA-F]{40}$`

var schemas = map[Name]string{
	NameRequestFeedbackAuth: `{
		"type": "object",
		"required": ["clientAddress"],
		"properties": {
			"clientAddress": {"type": "string", "pattern": "` + addressPattern + `"},
			"agentId": {"type": "string", "pattern": "^[0-9]+$"},
			"ttlSeconds": {"type": "integer", "minimum": 1}
		}
	}`,
	NameSubmitFeedback: `{
		"type": "object",
		"required": ["rating", "domain"],
		"properties": {
			"rating": {"type": "integer"},
			"domain": {"type": "string", "minLength": 1},
			"notes": {"type": "string"},
			"agentSkillId": {"type": "string"},
			"taskId": {"type": "string"},
			"contextId": {"type": "string"},
			"feedbackAuthId": {"type": "string"},
			"proofOfPayment": {"type": "string"},
			"clientAgentId": {"type": "string", "pattern": "^[0-9]+$"},
			"serverAgentId": {"type": "string", "pattern": "^[0-9]+$"},
			"clientAddress": {"type": "string", "pattern": "` + addressPattern + `"}
		}
	}`,
	NameFeedbackStats: `{
		"type": "object",
		"properties": {"domain": {"type": "string"}}
	}`,
	NameResolveAgent: `{
		"type": "object",
		"required": ["domain"],
		"properties": {"domain": {"type": "string", "minLength": 1}}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[Name]*jsonschema.Schema
)

func compileSchemas() {
	compiled = make(map[Name]*jsonschema.Schema, len(schemas))
	for name, src := range schemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://feedbackforge.local/tools/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("tool schema %s: %v", name, err))
		}
		s, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("tool schema %s: %v", name, err))
		}
		compiled[name] = s
	}
}

var descriptions = map[Name]string{
	NameRequestFeedbackAuth: "Sign a feedback authorization that lets a client address rate this agent",
	NameSubmitFeedback:      "Record a 1-5 star rating for an agent domain",
	NameFeedbackStats:       "Aggregate stored feedback, optionally for one domain",
	NameResolveAgent:        "Look up an agent identity in the identity registry by domain",
}

// Description returns a one-line description of a tool.
func Description(name Name) string { return descriptions[name] }

// Schema returns the JSON schema source for a tool's arguments.
func Schema(name Name) (string, bool) {
	s, ok := schemas[name]
	return s, ok
}

// Names lists all tool names in sorted order.
func Names() []string {
	out := make([]string, 0, len(schemas))
	for n := range schemas {
		out = append(out, string(n))
	}
	sort.Strings(out)
	return out
}

// Parse validates args against the tool's schema and decodes them into a Call.
// Unknown names yield *UnknownToolError; invalid arguments wrap domain.ErrValidation.
func Parse(name string, args json.RawMessage) (Call, error) {
	if _, ok := schemas[Name(name)]; !ok {
		return nil, &UnknownToolError{Name: name}
	}
	compileOnce.Do(compileSchemas)

	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
	}
	if err := compiled[Name(name)].Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
	}

	var call Call
	switch Name(name) {
	case NameRequestFeedbackAuth:
		var c RequestFeedbackAuth
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
		}
		call = c
	case NameSubmitFeedback:
		var c SubmitFeedback
		if err := json.Unmarshal(args, &c.SubmitRequest); err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
		}
		call = c
	case NameFeedbackStats:
		var c FeedbackStats
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
		}
		call = c
	case NameResolveAgent:
		var c ResolveAgent
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %w", domain.ErrValidation, name, err)
		}
		call = c
	}
	return call, nil
}

// Invocation is the wire shape {tool, arguments} carried in agent messages.
type Invocation struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParseInvocation decodes an Invocation and parses its call.
func ParseInvocation(raw []byte) (Call, error) {
	var inv Invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: tool invocation: %w", domain.ErrValidation, err)
	}
	if inv.Tool == "" {
		return nil, fmt.Errorf("%w: tool invocation is missing the tool name", domain.ErrValidation)
	}
	return Parse(inv.Tool, inv.Arguments)
}
