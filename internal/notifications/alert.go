// Package notifications turns conversation activity and delivery notices into
// operator alerts and fans them out to the in-app, Telegram and browser sinks.
package notifications

import (
	"time"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/domain/notification"

	"github.com/google/uuid"
)

// Alert is one decided notification, before it is rendered for a sink.
type Alert struct {
	Kind           notification.Kind
	Title          string
	Body           string
	ConversationID uuid.UUID
	CustomerName   string
	CustomerEmail  string
	OrderID        string
	Channel        string
	Urgent         bool
	CreatedAt      time.Time
}

// Notice reports whether the alert is a delivery notice rather than
// conversation activity.
func (a Alert) Notice() bool {
	return a.Kind.IsNotice()
}

// RequiresAck is true for urgent alerts, which stay until an operator acts.
func (a Alert) RequiresAck() bool {
	return a.Urgent || a.Kind == notification.KindUrgentMessage
}

func (a Alert) data() map[string]string {
	data := map[string]string{}
	if a.ConversationID != uuid.Nil {
		data["conversationId"] = a.ConversationID.String()
	}
	if a.CustomerName != "" {
		data["customerName"] = a.CustomerName
	}
	if a.CustomerEmail != "" {
		data["customerEmail"] = a.CustomerEmail
	}
	if a.OrderID != "" {
		data["orderId"] = a.OrderID
	}
	if a.Channel != "" {
		data["channel"] = a.Channel
	}
	return data
}

func newMessageAlert(conv *conversation.Conversation, at time.Time) Alert {
	a := conversationAlert(conv, at)
	who := a.CustomerName
	if who == "" {
		who = "a customer"
	}
	if conv.IsUrgent() {
		a.Kind = notification.KindUrgentMessage
		a.Urgent = true
		a.Title = "Urgent message from " + who
	} else {
		a.Kind = notification.KindNewMessage
		a.Title = "New message from " + who
	}
	a.Body = conv.LastMessage.Content
	if a.Body == "" {
		a.Body = "Sent an attachment"
	}
	return a
}

func newConversationAlert(conv *conversation.Conversation, at time.Time) Alert {
	a := conversationAlert(conv, at)
	a.Kind = notification.KindNewConversation
	a.Title = "New conversation"
	switch {
	case a.CustomerName != "" && a.OrderID != "":
		a.Body = a.CustomerName + " opened a conversation about order " + a.OrderID
	case a.CustomerName != "":
		a.Body = a.CustomerName + " opened a conversation"
	default:
		a.Body = "A new " + string(conv.Type) + " conversation was opened"
	}
	a.Urgent = conv.IsUrgent()
	return a
}

func conversationAlert(conv *conversation.Conversation, at time.Time) Alert {
	return Alert{
		ConversationID: conv.ID,
		CustomerName:   conv.CustomerName(),
		CustomerEmail:  conv.CustomerEmail(),
		OrderID:        conv.OrderID,
		CreatedAt:      at,
	}
}
