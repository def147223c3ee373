package httpdto

import "bookdesk/internal/domain/message"

type SendMessageRequest struct {
	MessageID   string               `json:"messageId"`
	Content     string               `json:"content"`
	Type        string               `json:"type"`
	Attachments []message.Attachment `json:"attachments"`
	Channels    []string             `json:"channels"`
	Priority    string               `json:"priority"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}
