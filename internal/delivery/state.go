package delivery

import (
	"encoding/json"
	"time"

	"bookdesk/internal/channels"
	"bookdesk/internal/domain/message"

	"github.com/google/uuid"
)

type State int

const (
	StateAttemptingPrimary State = iota
	StateClassifyError
	StateTryFallbacks
	StateDelivered
	StateDeliveredViaFallback
	StateQueuedForRetry
	StateOfflineQueued
	StateTerminalFailure
)

var stateNames = map[State]string{
	StateAttemptingPrimary:    "ATTEMPTING_PRIMARY",
	StateClassifyError:        "CLASSIFY_ERROR",
	StateTryFallbacks:         "TRY_FALLBACKS",
	StateDelivered:            "DELIVERED",
	StateDeliveredViaFallback: "DELIVERED_VIA_FALLBACK",
	StateQueuedForRetry:       "QUEUED_FOR_RETRY",
	StateOfflineQueued:        "OFFLINE_QUEUED",
	StateTerminalFailure:      "TERMINAL_FAILURE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether no further attempt follows this state.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateDeliveredViaFallback || s == StateTerminalFailure
}

// Request is one message to deliver. ID is the stable identity retries are
// keyed by; it doubles as the stored message id.
type Request struct {
	ID             uuid.UUID            `json:"id"`
	ConversationID uuid.UUID            `json:"conversationId"`
	SenderID       uuid.UUID            `json:"senderId"`
	SenderRole     string               `json:"senderRole"`
	Recipient      channels.Recipient   `json:"recipient"`
	Subject        string               `json:"subject,omitempty"`
	Body           string               `json:"body"`
	Type           message.Type         `json:"type,omitempty"`
	Attachments    []message.Attachment `json:"attachments,omitempty"`
	Priority       message.Priority     `json:"priority,omitempty"`
}

func (r Request) envelope(channel channels.Name) channels.Envelope {
	return channels.Envelope{
		MessageID:      r.ID,
		IdempotencyKey: IdempotencyKey(r.ID, channel),
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		SenderRole:     r.SenderRole,
		Recipient:      r.Recipient,
		Subject:        r.Subject,
		Body:           r.Body,
		Type:           r.Type,
		Attachments:    r.Attachments,
		Priority:       r.Priority,
	}
}

// IdempotencyKey is stable across retries of the same request on one channel.
func IdempotencyKey(requestID uuid.UUID, channel channels.Name) string {
	return requestID.String() + ":" + string(channel)
}

// Outcome reports where a send ended up. Queued outcomes carry no error.
type Outcome struct {
	RequestID uuid.UUID     `json:"requestId"`
	State     State         `json:"state"`
	Success   bool          `json:"success"`
	Queued    bool          `json:"queued"`
	Channel   channels.Name `json:"channel,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// QueueEntry is a request waiting in the retry or offline queue.
type QueueEntry struct {
	Request      Request   `json:"request"`
	RetryCount   int       `json:"retryCount"`
	Timestamp    time.Time `json:"timestamp"`
	RetryAfterMs int64     `json:"retryAfter,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// Delay is the explicit retry-after when one was given, else the capped
// exponential backoff for the entry's retry count.
func (e QueueEntry) Delay(cfg Config) time.Duration {
	if e.RetryAfterMs > 0 {
		return time.Duration(e.RetryAfterMs) * time.Millisecond
	}
	return Backoff(cfg.BaseDelay, cfg.MaxDelay, e.RetryCount)
}

func (e QueueEntry) Eligible(now time.Time, cfg Config) bool {
	return now.Sub(e.Timestamp) >= e.Delay(cfg)
}
