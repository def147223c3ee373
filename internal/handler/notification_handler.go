package handler

import (
	"context"
	"net/http"
	"strconv"

	"bookdesk/internal/repository"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// NotificationHandler serves the caller's in-app notifications.
type NotificationHandler struct {
	repo repository.NotificationRepository
}

func NewNotificationHandler(repo repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{repo: repo}
}

func (h *NotificationHandler) List(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))

	items, err := h.repo.ListForRecipient(c.Request.Context(), caller.UserID, unreadOnly, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(items))
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.stamp(c, h.repo.MarkRead)
}

func (h *NotificationHandler) Acknowledge(c *gin.Context) {
	h.stamp(c, h.repo.Acknowledge)
}

func (h *NotificationHandler) stamp(c *gin.Context, apply func(ctx context.Context, id, recipientID uuid.UUID) error) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid notification id")
		return
	}
	if err := apply(c.Request.Context(), id, caller.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(map[string]bool{"ok": true}))
}
