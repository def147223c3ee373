package handler

import (
	"context"
	"net/http"

	"bookdesk/internal/delivery"
	"bookdesk/internal/domain/message"
	"bookdesk/internal/domain/user"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeliveryEngine is the part of delivery.Engine the HTTP surface drives.
type DeliveryEngine interface {
	Send(ctx context.Context, req delivery.Request) (delivery.Outcome, error)
	RetryQueue() []delivery.QueueEntry
	OfflineQueue() []delivery.QueueEntry
	Online() bool
}

type DeliveryHandler struct {
	engine        DeliveryEngine
	conversations *services.ConversationService
}

func NewDeliveryHandler(engine DeliveryEngine, conversations *services.ConversationService) *DeliveryHandler {
	return &DeliveryHandler{engine: engine, conversations: conversations}
}

// Send delivers the message through the primary channel, falling back to the
// recipient's external channels only when that fails. 200 means delivered,
// 202 means queued for a later attempt.
func (h *DeliveryHandler) Send(c *gin.Context) {
	var req httpdto.DeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	conversationID, err := parseUUID(req.ConversationID)
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	messageID, err := parseOptionalUUID(req.MessageID)
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}
	recipientID, err := parseOptionalUUID(req.RecipientID)
	if err != nil {
		badRequest(c, "invalid recipient id")
		return
	}

	ctx := c.Request.Context()
	conv, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	candidates, err := h.conversations.Recipients(ctx, conv, caller.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	recipient, err := pickRecipient(candidates, recipientID)
	if err != nil {
		respondError(c, err)
		return
	}

	dr := delivery.Request{
		ConversationID: conv.ID,
		SenderID:       caller.UserID,
		SenderRole:     string(caller.Role),
		Recipient:      services.RecipientFor(recipient),
		Subject:        req.Subject,
		Body:           req.Content,
		Type:           message.Type(req.Type),
		Priority:       message.Priority(req.Priority),
	}
	if messageID != nil {
		dr.ID = *messageID
	}

	out, err := h.engine.Send(ctx, dr)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, httpdto.NewSuccessResponse(out))
}

func (h *DeliveryHandler) Queues(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.QueuesResponse{
		Online:  h.engine.Online(),
		Retry:   h.engine.RetryQueue(),
		Offline: h.engine.OfflineQueue(),
	}))
}

// pickRecipient honours an explicit recipient, else prefers the first
// customer among the other participants.
func pickRecipient(candidates []user.User, want *uuid.UUID) (*user.User, error) {
	if want != nil {
		for i := range candidates {
			if candidates[i].ID == *want {
				return &candidates[i], nil
			}
		}
		return nil, bookdesk_errors.Validation("recipient is not a participant of the conversation")
	}
	if len(candidates) == 0 {
		return nil, bookdesk_errors.Validation("conversation has no recipient")
	}
	for i := range candidates {
		if candidates[i].Role != user.RoleAdmin {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}
