package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps an engine error to its HTTP status
func Fail(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), map[string]any{"category": engerrors.CategoryOf(err)})
}

func statusFor(err error) int {
	switch engerrors.CategoryOf(err) {
	case engerrors.ErrorCategoryPrecondition:
		return http.StatusConflict
	case engerrors.ErrorCategoryValidation:
		if errors.Is(err, engerrors.ErrPositionNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case engerrors.ErrorCategoryAdmission:
		return http.StatusUnprocessableEntity
	case engerrors.ErrorCategoryFetch:
		return http.StatusBadGateway
	case engerrors.ErrorCategoryPersistence:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, engerrors.ErrUnknownStrategy) || errors.Is(err, engerrors.ErrInvalidSignal) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
