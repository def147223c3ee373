package handler

import (
	"net/http"

	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type AttachmentHandler struct {
	service *services.AttachmentService
}

func NewAttachmentHandler(service *services.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// Presign returns a presigned PUT URL plus the attachment value to send with
// the message once the upload completed.
func (h *AttachmentHandler) Presign(c *gin.Context) {
	var req httpdto.PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	conversationID, err := parseUUID(req.ConversationID)
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}

	res, err := h.service.CreatePresignedUpload(c.Request.Context(), services.PresignInput{
		ConversationID: conversationID,
		FileName:       req.FileName,
		ContentType:    req.ContentType,
		FileSize:       req.FileSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(res))
}
