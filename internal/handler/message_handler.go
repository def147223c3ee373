package handler

import (
	"net/http"
	"strconv"

	"bookdesk/internal/domain/message"
	"bookdesk/internal/repository"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	messageID, err := parseOptionalUUID(req.MessageID)
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}

	chans := make([]message.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		chans = append(chans, message.Channel(ch))
	}

	msg, err := h.service.SendMessage(c.Request.Context(), conversationID, services.SendMessageInput{
		MessageID:   messageID,
		Content:     req.Content,
		Type:        message.Type(req.Type),
		Attachments: req.Attachments,
		Channels:    chans,
		Priority:    message.Priority(req.Priority),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(msg))
}

// List returns the conversation's messages, newest first unless order=asc.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}

	items, err := h.service.GetMessages(c.Request.Context(), conversationID, repository.MessageQuery{
		Ascending: c.Query("order") == "asc",
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(items))
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := parseUUID(c.Param("messageId"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}
	hard, _ := strconv.ParseBool(c.Query("hard"))
	if err := h.service.DeleteMessage(c.Request.Context(), messageID, hard); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(map[string]bool{"deleted": true}))
}

func (h *MessageHandler) Search(c *gin.Context) {
	conversationID, err := parseOptionalUUID(c.Query("conversationId"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	items, err := h.service.SearchMessages(c.Request.Context(), c.Query("q"), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(items))
}
