package routes

import (
	"log/slog"
	"strings"

	"easybox-network/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const REQUEST_ID_HEADER = "X-Request-ID"

type errorStruct struct {
	Succeed   bool     `json:"success"`
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	Code      []string `json:"code,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// RequestID tags every request with an id, reusing the caller's if it sent one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(REQUEST_ID_HEADER))
		if _, err := uuid.Parse(id); err != nil {
			id = utils.NewRequestID()
		}
		c.Set("requestID", id)
		c.Header(REQUEST_ID_HEADER, id)
		c.Next()
	}
}

// ErrorHandler captures errors and returns a consistent JSON error response
// with appropriate HTTP status codes based on the error type
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		statusCode := GetErrorStatus(err)
		errorInfo := GetErrorInfo(err)

		attrs := []any{
			"error", err,
			"status", statusCode,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"requestId", c.GetString("requestID"),
		}
		if statusCode >= 500 {
			slog.Error("Request failed with server error", attrs...)
		} else {
			slog.Warn("Request failed with client error", attrs...)
		}

		if c.Writer.Written() {
			return
		}

		response := errorStruct{
			Succeed:   false,
			Status:    "error",
			Message:   errorInfo.Message,
			RequestID: c.GetString("requestID"),
		}
		// Collect all the stop codes from all wrapped errors
		for _, e := range c.Errors {
			response.Code = append(response.Code, GetErrorInfo(e.Err).StopCodes...)
		}

		if strings.HasPrefix(c.Request.URL.Path, "/admin") && c.GetHeader("Accept") != "application/json" {
			c.HTML(statusCode, "error", response)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(statusCode, response)
	}
}

// AbortWithError is a helper function to abort the request with an error
// and add it to the Gin error chain for the ErrorHandler middleware
func AbortWithError(c *gin.Context, err error) {
	statusCode := GetErrorStatus(err)
	c.Error(err)
	c.Abort()
	// Set the status code so gin knows not to send 200
	c.Status(statusCode)
}

// AbortWithHTTPError is a helper to abort with a custom HTTPError
func AbortWithHTTPError(c *gin.Context, statusCode int, err error, message string, stopCodes ...string) {
	c.Error(NewHTTPError(statusCode, err, message, stopCodes...))
	c.Abort()
	c.Status(statusCode)
}
