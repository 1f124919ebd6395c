// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/FeedbackForge/internal/port/broadcast"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
)

// Events fans domain events out to the message queue, or straight to
// connected clients when no queue is configured. A nil *Events drops events.
type Events struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEvents creates an Events. Either argument may be nil.
func NewEvents(queue messagequeue.Queue, hub broadcast.Broadcaster) *Events {
	return &Events{queue: queue, hub: hub}
}

// Emit publishes payload on subject. Failures are logged, never returned.
func (e *Events) Emit(ctx context.Context, subject string, payload any) {
	if e == nil {
		return
	}
	if e.queue == nil {
		if e.hub != nil {
			e.hub.BroadcastEvent(ctx, subject, payload)
		}
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event payload", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}

// Relay subscribes to every event subject and forwards messages to connected
// clients. The returned function cancels all subscriptions.
func (e *Events) Relay(ctx context.Context) (func(), error) {
	if e == nil || e.queue == nil || e.hub == nil {
		return func() {}, nil
	}
	var cancels []func()
	stop := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, subject := range messagequeue.Subjects() {
		cancel, err := e.queue.Subscribe(ctx, subject, e.forward)
		if err != nil {
			stop()
			return nil, fmt.Errorf("relay %s: %w", subject, err)
		}
		cancels = append(cancels, cancel)
	}
	return stop, nil
}

func (e *Events) forward(ctx context.Context, subject string, data []byte) error {
	e.hub.BroadcastEvent(ctx, subject, json.RawMessage(data))
	return nil
}
