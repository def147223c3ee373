package websocket

import (
	"context"
	"strings"

	"bookdesk/internal/domain/user"
	"bookdesk/internal/events"

	"github.com/google/uuid"
)

type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// ChannelAuthorizer decides which change feed channels a session may follow.
type ChannelAuthorizer struct {
	conversations ParticipantChecker
}

func NewChannelAuthorizer(conversations ParticipantChecker) *ChannelAuthorizer {
	return &ChannelAuthorizer{conversations: conversations}
}

// CanSubscribe allows conversation channels to participants and presence
// channels to the user themself or to admins. Everything else is denied.
func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID uuid.UUID, role user.Role, channel string) (bool, error) {
	switch {
	case strings.HasPrefix(channel, events.ConversationChannel("")):
		convID, err := uuid.Parse(strings.TrimPrefix(channel, events.ConversationChannel("")))
		if err != nil {
			return false, nil
		}
		return a.conversations.IsParticipant(ctx, convID, userID)

	case strings.HasPrefix(channel, events.PresenceChannel("")):
		target := strings.TrimPrefix(channel, events.PresenceChannel(""))
		if _, err := uuid.Parse(target); err != nil {
			return false, nil
		}
		return target == userID.String() || role == user.RoleAdmin, nil
	}
	return false, nil
}
