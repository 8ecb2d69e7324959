package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/auth"
	"compliance-core/internal/models"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error to its HTTP status
func respondError(c *gin.Context, err error) {
	status, title := http.StatusInternalServerError, "Internal error"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, title = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, models.ErrNotFound):
		status, title = http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrConflict):
		status, title = http.StatusConflict, "Conflict"
	case errors.Is(err, models.ErrCryptographic):
		status, title = http.StatusUnprocessableEntity, "Cryptographic failure"
	case errors.Is(err, models.ErrStorage):
		status, title = http.StatusBadGateway, "Archive storage failure"
	}

	c.JSON(status, ErrorResponse{
		Error:   title,
		Message: err.Error(),
		Code:    models.CodeOf(err),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Message: message,
		Code:    models.CodeInvalidInput,
	})
}

// actorFrom returns the audit actor for the request. The tenant always comes
// from the validated token.
func actorFrom(c *gin.Context) audit.Actor {
	actor, ok := audit.ActorFromContext(c.Request.Context())
	if !ok {
		actor = audit.Actor{
			UserID:    c.GetString(auth.ContextUserID),
			UserEmail: c.GetString(auth.ContextUserEmail),
			UserName:  c.GetString(auth.ContextUserName),
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
	}
	actor.TenantID = c.GetString(auth.ContextTenantID)
	return actor
}

// parseTime accepts RFC3339 timestamps or plain dates
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseActions parses a comma-separated list of actions
func parseActions(value string) []audit.Action {
	if value == "" {
		return nil
	}

	var actions []audit.Action
	for _, part := range strings.Split(value, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			actions = append(actions, audit.Action(part))
		}
	}
	return actions
}

func queryInt(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
