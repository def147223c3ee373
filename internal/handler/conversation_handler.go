package handler

import (
	"net/http"
	"strconv"

	"bookdesk/internal/domain/conversation"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationHandler struct {
	service  *services.ConversationService
	messages *services.MessageService
}

func NewConversationHandler(service *services.ConversationService, messages *services.MessageService) *ConversationHandler {
	return &ConversationHandler{service: service, messages: messages}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req httpdto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	caller, ok := callerOf(c)
	if !ok {
		return
	}

	participantIDs, err := parseUUIDs(req.Participants)
	if err != nil {
		badRequest(c, "invalid participant id")
		return
	}
	// The creator always takes part in what they open.
	participantIDs = append([]uuid.UUID{caller.UserID}, participantIDs...)

	conv, err := h.service.CreateConversation(c.Request.Context(), participantIDs, conversation.Type(req.Type), req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromConversation(conv, caller.UserID)))
}

func (h *ConversationHandler) List(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}

	filter := repository.ConversationFilter{
		Type:    conversation.Type(c.Query("type")),
		OrderID: c.Query("orderId"),
	}
	if raw := c.Query("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid isActive")
			return
		}
		filter.IsActive = &active
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	filter.Limit = limit

	items, err := h.service.GetConversations(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromConversations(items, caller.UserID)))
}

func (h *ConversationHandler) GetByID(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	conv, err := h.service.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromConversation(conv, caller.UserID)))
}

func (h *ConversationHandler) Archive(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	if err := h.service.ArchiveConversation(c.Request.Context(), conversationID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(map[string]bool{"archived": true}))
}

// MarkRead marks the listed messages read for the caller, or every unread
// message when the body names none.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	var req httpdto.MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	ids, err := parseUUIDs(req.MessageIDs)
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}
	if err := h.messages.MarkMessagesAsRead(c.Request.Context(), conversationID, ids); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(map[string]bool{"read": true}))
}
