package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/agent"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
)

func newToolService(t *testing.T) (*ToolService, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	reg := &fakeReputation{lastIndex: 2}
	auth := NewAuthorizationService(reg, newFakeAccount(t), testChainID, time.Hour, nil)
	fb := NewFeedbackService(store, reg, auth, testChainID, nil)
	ident := &fakeIdentity{byMethod: map[string]agent.Identity{chain.MethodResolveByDomain: finderIdentity()}}
	dir, err := NewAgentDirectory(ident, nil, time.Minute, nil)
	require.NoError(t, err)
	return NewToolService(fb, auth, dir, "finder.localhost"), store
}

func TestInvokeUnknownTool(t *testing.T) {
	svc, _ := newToolService(t)
	_, err := svc.Invoke(context.Background(), "delete_everything", nil)

	var unknown *tool.UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "delete_everything", unknown.Name)
}

func TestInvokeSubmitFeedbackReturnsStatus(t *testing.T) {
	svc, store := newToolService(t)
	ctx := context.Background()

	out, err := svc.Invoke(ctx, "submit_feedback", json.RawMessage(`{"rating":5,"domain":"a.test","feedbackAuthId":"x"}`))
	require.NoError(t, err)
	res := out.(feedback.SubmitResult)
	assert.Equal(t, feedback.StatusOK, res.Status)
	assert.Equal(t, 100, res.Rating)
	assert.Len(t, store.records, 1)

	out, err = svc.Invoke(ctx, "submit_feedback", json.RawMessage(`{"rating":6,"domain":"a.test"}`))
	require.NoError(t, err, "a rejected rating is reported in the result, not as an error")
	assert.Equal(t, feedback.StatusError, out.(feedback.SubmitResult).Status)
	assert.Len(t, store.records, 1)
}

func TestInvokeRequestFeedbackAuthDefaultsToSelf(t *testing.T) {
	svc, _ := newToolService(t)
	out, err := svc.Invoke(context.Background(), "request_feedback_auth",
		json.RawMessage(`{"clientAddress":"`+testClient.Hex()+`"}`))
	require.NoError(t, err)

	view := out.(AuthorizationView)
	assert.Equal(t, "12", view.AgentID)
	assert.Equal(t, uint64(3), view.IndexLimit)
	assert.Equal(t, testClient.Hex(), view.ClientAddress)
}

func TestInvokeRequestFeedbackAuthExplicitAgent(t *testing.T) {
	svc, _ := newToolService(t)
	out, err := svc.Invoke(context.Background(), "request_feedback_auth",
		json.RawMessage(`{"clientAddress":"`+testClient.Hex()+`","agentId":"77","ttlSeconds":60}`))
	require.NoError(t, err)
	assert.Equal(t, "77", out.(AuthorizationView).AgentID)
}

func TestDispatchWithoutOptionalServices(t *testing.T) {
	fb := NewFeedbackService(&fakeStore{}, nil, nil, testChainID, nil)
	svc := NewToolService(fb, nil, nil, "")
	ctx := context.Background()

	_, err := svc.Dispatch(ctx, tool.RequestFeedbackAuth{ClientAddress: testClient.Hex()})
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = svc.Dispatch(ctx, tool.ResolveAgent{Domain: "finder.localhost"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	out, err := svc.Dispatch(ctx, tool.FeedbackStats{})
	require.NoError(t, err)
	assert.Zero(t, out.(feedback.Stats).Total)
}

func TestInvokeResolveAgentAndStats(t *testing.T) {
	svc, _ := newToolService(t)
	ctx := context.Background()

	out, err := svc.Invoke(ctx, "resolve_agent", json.RawMessage(`{"domain":"finder.localhost"}`))
	require.NoError(t, err)
	assert.Equal(t, finderAddr, out.(ResolvedAgent).Address)

	_, err = svc.Invoke(ctx, "submit_feedback", json.RawMessage(`{"rating":2,"domain":"b.test","feedbackAuthId":"x"}`))
	require.NoError(t, err)
	out, err = svc.Invoke(ctx, "feedback_stats", json.RawMessage(`{"domain":"b.test"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(feedback.Stats).Total)
}

func TestInvokeInvalidArguments(t *testing.T) {
	svc, _ := newToolService(t)
	_, err := svc.Invoke(context.Background(), "resolve_agent", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
