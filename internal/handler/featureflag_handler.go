package handler

import (
	"net/http"

	"bookdesk/internal/featureflags"
	"bookdesk/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type FeatureFlagHandler struct {
	flags *featureflags.Manager
}

func NewFeatureFlagHandler(flags *featureflags.Manager) *FeatureFlagHandler {
	return &FeatureFlagHandler{flags: flags}
}

func (h *FeatureFlagHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.flags.Snapshot()))
}

func (h *FeatureFlagHandler) Set(c *gin.Context) {
	flag := featureflags.Flag(c.Param("name"))
	if !flag.Valid() {
		badRequest(c, "unknown feature flag")
		return
	}
	var req httpdto.SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.flags.Set(c.Request.Context(), flag, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.flags.Snapshot()))
}
