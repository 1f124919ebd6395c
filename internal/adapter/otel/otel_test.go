package otel

import (
	"context"
	"testing"

	"github.com/Strob0t/FeedbackForge/internal/config"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.OTEL{}, "feedbackforge", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetricsNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.FeedbackRecorded.Add(context.Background(), 1)
}

func TestSpansEnd(t *testing.T) {
	ctx, span := StartAuthorizationSpan(context.Background(), "1", "0x0")
	_, child := StartSubmissionSpan(ctx, "0x0", 2)
	child.End()
	span.End()
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{1: "AlwaysOnSampler", 0: "AlwaysOffSampler", 2: "AlwaysOnSampler"}
	for ratio, want := range tests {
		if got := sampler(ratio).Description(); got != want {
			t.Errorf("sampler(%v) = %s, want %s", ratio, got, want)
		}
	}
}
