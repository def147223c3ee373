package httpdto

import "bookdesk/internal/delivery"

// DeliverRequest sends a message through the delivery engine. MessageID is
// optional; resubmitting the same id never duplicates the message.
type DeliverRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	MessageID      string `json:"messageId"`
	RecipientID    string `json:"recipientId"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
}

type QueuesResponse struct {
	Online  bool                  `json:"online"`
	Retry   []delivery.QueueEntry `json:"retry"`
	Offline []delivery.QueueEntry `json:"offline"`
}

type SetFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type PresignRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	FileName       string `json:"fileName" binding:"required"`
	ContentType    string `json:"contentType" binding:"required"`
	FileSize       int64  `json:"fileSize" binding:"required"`
}
