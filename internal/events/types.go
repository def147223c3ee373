package events

const (
	conversationChannelPrefix = "channel:conversation:"
	presenceChannelPrefix     = "channel:presence:"

	// AllConversations matches the change feed of every conversation.
	AllConversations = conversationChannelPrefix + "*"
	// SystemChannel receives events with no routable aggregate.
	SystemChannel = "channel:system:outbox"
)

func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

func PresenceChannel(userID string) string {
	return presenceChannelPrefix + userID
}

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}
