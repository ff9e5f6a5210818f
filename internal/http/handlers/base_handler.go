// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// isValidID accepts the uuid and slug style ids the stores issue.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, kind, msg string) {
	writeJSON(c, status, errorResponse{Error: kind, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, apperr.KindValidation, msg)
}

// writeAppError maps the error taxonomy to status codes; internal details stay in the access log.
func writeAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := apperr.Kind(err)
	switch kind {
	case apperr.KindValidation:
		writeError(c, http.StatusBadRequest, kind, err.Error())
	case apperr.KindNotFound:
		writeError(c, http.StatusNotFound, kind, err.Error())
	case apperr.KindConflict:
		writeError(c, http.StatusConflict, kind, err.Error())
	case apperr.KindUnauthorized:
		writeError(c, http.StatusForbidden, kind, err.Error())
	case apperr.KindInsufficientFunds:
		var ife apperr.InsufficientFundsError
		errors.As(err, &ife)
		writeJSON(c, http.StatusUnprocessableEntity, gin.H{
			"error":     kind,
			"message":   err.Error(),
			"available": ife.Available,
		})
	default:
		writeError(c, http.StatusInternalServerError, apperr.KindInternal, "internal error")
	}
}

// pathID reads and checks the :id path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		badRequest(c, "invalid id")
		return "", false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid json: "+err.Error())
		return false
	}
	return true
}
