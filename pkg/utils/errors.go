package utils

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// AppError carries a machine-readable prefix plus a human string so clients
// can render failures without the backend knowing about localization.
type AppError struct {
	Status  int    `json:"-"`
	Prefix  string `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Prefix + ": " + e.Message
}

func NewInvalidInputError(format string, args ...interface{}) *AppError {
	return &AppError{Status: 400, Prefix: "INVALID_INPUT", Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(message string) *AppError {
	return &AppError{Status: 409, Prefix: "CONFLICT", Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Status: 401, Prefix: "UNAUTHORIZED", Message: message}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Status: 403, Prefix: "FORBIDDEN", Message: message}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{Status: 404, Prefix: "NOT_FOUND", Message: resource + " not found"}
}

func NewUnavailableError(message string) *AppError {
	return &AppError{Status: 503, Prefix: "UNAVAILABLE", Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Status: 500, Prefix: "INTERNAL", Message: message}
}

// HandleError sends an appropriate HTTP response for an error
func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.JSON(appErr.Status, gin.H{"error": appErr.Error()})
		return
	}
	c.JSON(500, gin.H{"error": "INTERNAL: internal server error"})
}
