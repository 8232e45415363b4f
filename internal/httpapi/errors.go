package httpapi

import (
	"errors"
	"net/http"

	"callsignal/internal/callcontrol"
	"callsignal/internal/calls"
	"callsignal/internal/history"
	"callsignal/pkg/logger"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters only for errors that wrap more than one sentinel.
var errorMappings = []errorMapping{
	{calls.ErrNotFound, http.StatusNotFound, "not_found"},
	{callcontrol.ErrUserNotFound, http.StatusNotFound, "not_found"},
	{calls.ErrForbidden, http.StatusForbidden, "forbidden"},
	{callcontrol.ErrNotFriends, http.StatusForbidden, "not_friends"},
	{calls.ErrInvalidState, http.StatusBadRequest, "invalid_state"},
	{calls.ErrAlreadyInCall, http.StatusBadRequest, "already_in_call"},
	{callcontrol.ErrTargetOffline, http.StatusBadRequest, "target_offline"},
	{callcontrol.ErrCallerOffline, http.StatusBadRequest, "caller_offline"},
	{calls.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{history.ErrInvalidRequest, http.StatusBadRequest, "invalid_argument"},
}

// writeError maps domain errors to a status and a stable reason code.
// Unknown errors are logged and reported as 500 without details.
func writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.AbortWithStatusJSON(m.status, gin.H{"error": err.Error(), "code": m.code})
			return
		}
	}
	_ = c.Error(err)
	logger.FromGin(c).Error("request failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": "internal"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_argument"})
}
