package handler

import (
	"strconv"

	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// respondError writes err with the status its error code maps to and
// attaches it to the context for the error middleware's logging.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(httpdto.ErrorFrom(err))
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, bookdesk_errors.Validation("%s", msg))
}

func callerOf(c *gin.Context) (services.Caller, bool) {
	caller, err := services.CallerFromContext(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return services.Caller{}, false
	}
	return caller, true
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := parseUUID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseOptionalUUID(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := parseUUID(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
