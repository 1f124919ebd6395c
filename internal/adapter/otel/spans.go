package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "feedbackforge"

// StartAuthorizationSpan starts a span for signing a feedback authorization.
func StartAuthorizationSpan(ctx context.Context, agentID, client string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "feedback_auth",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("client.address", client),
		),
	)
}

// StartRedemptionSpan starts a span for redeeming a delegation.
func StartRedemptionSpan(ctx context.Context, delegator, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "redeem_delegation",
		trace.WithAttributes(
			attribute.String("delegation.delegator", delegator),
			attribute.String("execution.target", target),
		),
	)
}

// StartSubmissionSpan starts a span for submitting a user-operation.
func StartSubmissionSpan(ctx context.Context, sender string, calls int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "submit_userop",
		trace.WithAttributes(
			attribute.String("userop.sender", sender),
			attribute.Int("userop.calls", calls),
		),
	)
}

// StartFeedbackSpan starts a span for recording a feedback submission.
func StartFeedbackSpan(ctx context.Context, domain string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "submit_feedback",
		trace.WithAttributes(attribute.String("feedback.domain", domain)),
	)
}
