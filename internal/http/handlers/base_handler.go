// README: Base handler utilities (JSON helpers, error mapping, caller identity).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/http/middleware"
	"ridepool/internal/modules/otp"
	"ridepool/internal/modules/ride"
	"ridepool/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID ensures path ids look like generated ids (32-char lowercase hex).
func isValidID(v string) bool {
	if len(v) != 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module sentinels onto HTTP statuses. Services wrap
// the sentinels with detail, so matching goes through errors.Is.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrCapacityExceeded),
		errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrDuplicateRequest),
		errors.Is(err, ride.ErrRideNotActive),
		errors.Is(err, ride.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, otp.ErrMismatch),
		errors.Is(err, otp.ErrConsumed),
		errors.Is(err, otp.ErrNotIssued):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, otp.ErrLocked):
		writeError(c, http.StatusTooManyRequests, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// requireRole writes a 403 and returns false when the caller's role claim
// does not match.
func requireRole(c *gin.Context, role string) bool {
	if middleware.CallerRole(c) != role {
		writeError(c, http.StatusForbidden, "forbidden: "+role+" role required")
		return false
	}
	return true
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// pathID validates the :id route parameter and writes a 400 on junk input.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}
