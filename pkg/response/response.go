package response

import (
	"errors"
	"net/http"
	"time"

	"trade-settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, success(c, data))
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, success(c, data))
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, failure(c, appErr.Code, appErr.Message))
		return
	}

	// Unknown error -> 500
	c.JSON(http.StatusInternalServerError, failure(c, "SYS_000", "Internal server error"))
}

// Abort writes an error response and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func success(c *gin.Context, data interface{}) SuccessResponse {
	return SuccessResponse{
		Success:   true,
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func failure(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		ErrorCode: code,
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
