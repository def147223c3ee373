package redis

import (
	"context"
	"encoding/json"
	"time"

	"bookdesk/internal/events"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus is the userStatus record shown next to a customer in the
// admin panel.
type PresenceStatus struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// PresenceStore tracks which users have a live websocket session.
type PresenceStore struct {
	client    *goredis.Client
	publisher events.Publisher
	ttl       time.Duration
}

const (
	presenceKeyPrefix = "presence:"
	presenceOnlineSet = "presence:online"
)

func NewPresenceStore(client *goredis.Client, publisher events.Publisher, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{
		client:    client,
		publisher: publisher,
		ttl:       ttl,
	}
}

func (p *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	return p.set(ctx, PresenceStatus{UserID: userID, IsOnline: true, LastSeen: time.Now().UTC()}, p.ttl)
}

// SetOffline keeps the record for a day so lastSeen stays queryable.
func (p *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	return p.set(ctx, PresenceStatus{UserID: userID, IsOnline: false, LastSeen: time.Now().UTC()}, 24*time.Hour)
}

func (p *PresenceStore) set(ctx context.Context, status PresenceStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+status.UserID, data, ttl)
	if status.IsOnline {
		pipe.SAdd(ctx, presenceOnlineSet, status.UserID)
	} else {
		pipe.SRem(ctx, presenceOnlineSet, status.UserID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return p.publish(ctx, status)
}

// Heartbeat refreshes the presence TTL of a connected user.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID string) error {
	return p.client.Expire(ctx, presenceKeyPrefix+userID, p.ttl).Err()
}

// GetPresence returns an offline status for users never seen.
func (p *PresenceStore) GetPresence(ctx context.Context, userID string) (*PresenceStatus, error) {
	data, err := p.client.Get(ctx, presenceKeyPrefix+userID).Result()
	if err == goredis.Nil {
		return &PresenceStatus{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	var status PresenceStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID).Result()
}

func (p *PresenceStore) publish(ctx context.Context, status PresenceStatus) error {
	if p.publisher == nil {
		return nil
	}

	eventType := "presence.offline"
	if status.IsOnline {
		eventType = "presence.online"
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	data, err := json.Marshal(events.Envelope{
		EventType:     eventType,
		AggregateType: "presence",
		AggregateID:   status.UserID,
		OccurredAt:    status.LastSeen,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, events.PresenceChannel(status.UserID), data)
}
