package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/FeedbackForge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals payload and broadcasts it as an event of eventType.
// A json.RawMessage payload is forwarded as is.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			slog.Error("marshal ws event payload", "type", eventType, "error", err)
			return
		}
	}

	h.Broadcast(ctx, Message{
		ID:      uuid.NewString(),
		Type:    eventType,
		Time:    time.Now().UTC(),
		Payload: data,
	})
}
