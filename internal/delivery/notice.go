package delivery

import (
	"context"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/notification"
	"bookdesk/internal/featureflags"

	"github.com/google/uuid"
)

// Notice tells the operator the primary channel degraded.
type Notice struct {
	Kind           notification.Kind
	Title          string
	Body           string
	RequestID      uuid.UUID
	ConversationID uuid.UUID
	Channel        channels.Name
	RetryAfter     time.Duration
	Count          int
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// FlagSource answers whether a delivery feature is switched on.
type FlagSource interface {
	Enabled(f featureflags.Flag) bool
}

// OfflineStore persists the offline queue across restarts.
type OfflineStore interface {
	Put(ctx context.Context, data []byte) error
	Get(ctx context.Context) ([]byte, error)
	Clear(ctx context.Context) error
}

// Recorder stores per-channel outcomes on the delivered message.
type Recorder interface {
	RecordDelivery(ctx context.Context, messageID uuid.UUID, channel channels.Name, delivered bool) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) {}
