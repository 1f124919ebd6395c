package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "feedbackforge"

// Metrics holds all FeedbackForge metric instruments.
type Metrics struct {
	AuthorizationsIssued metric.Int64Counter
	AuthorizationsFailed metric.Int64Counter
	UserOpsSubmitted     metric.Int64Counter
	UserOpsFailed        metric.Int64Counter
	FeedbackRecorded     metric.Int64Counter
	FeedbackRejected     metric.Int64Counter
	ChainReadDuration    metric.Float64Histogram
	InclusionDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AuthorizationsIssued, err = meter.Int64Counter("feedbackforge.authorizations.issued",
		metric.WithDescription("Number of feedback authorizations signed"))
	if err != nil {
		return nil, err
	}

	m.AuthorizationsFailed, err = meter.Int64Counter("feedbackforge.authorizations.failed",
		metric.WithDescription("Number of feedback authorizations that failed"))
	if err != nil {
		return nil, err
	}

	m.UserOpsSubmitted, err = meter.Int64Counter("feedbackforge.userops.submitted",
		metric.WithDescription("Number of user-operations accepted by the bundler"))
	if err != nil {
		return nil, err
	}

	m.UserOpsFailed, err = meter.Int64Counter("feedbackforge.userops.failed",
		metric.WithDescription("Number of user-operations rejected or reverted"))
	if err != nil {
		return nil, err
	}

	m.FeedbackRecorded, err = meter.Int64Counter("feedbackforge.feedback.recorded",
		metric.WithDescription("Number of feedback records stored"))
	if err != nil {
		return nil, err
	}

	m.FeedbackRejected, err = meter.Int64Counter("feedbackforge.feedback.rejected",
		metric.WithDescription("Number of feedback submissions rejected"))
	if err != nil {
		return nil, err
	}

	m.ChainReadDuration, err = meter.Float64Histogram("feedbackforge.chain.read_seconds",
		metric.WithDescription("Registry read duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.InclusionDuration, err = meter.Float64Histogram("feedbackforge.userop.inclusion_seconds",
		metric.WithDescription("Time from submission to receipt in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
