package routes

import (
	"errors"
	"net/http"

	"easybox-network/internal/access"
	"easybox-network/internal/jwt"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message
	StopCodes []string // Optional stop codes for client-side application
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
	}
}

var (
	// Authentication errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Validation errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter")

	ErrInternalServer     = errors.New("internal server error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:      http.StatusBadRequest,
	ErrMissingParameter:    http.StatusBadRequest,
	ErrInvalidParameter:    http.StatusBadRequest,
	utils.ErrInvalidFormat: http.StatusBadRequest,
	access.ErrInvalidEmail: http.StatusBadRequest,
	access.ErrMissingEmail: http.StatusBadRequest,

	// 401 Unauthorized
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrInvalidCredentials: http.StatusUnauthorized,
	jwt.ErrNonValidToken:  http.StatusUnauthorized,

	// 403 Forbidden
	ErrForbidden: http.StatusForbidden,

	// 404 Not Found
	utils.ErrNotFound:   http.StatusNotFound,
	storage.ErrNotFound: http.StatusNotFound,

	// 409 Conflict
	utils.ErrConflict:          http.StatusConflict,
	utils.ErrInvalidState:      http.StatusConflict,
	storage.ErrVersionConflict: http.StatusConflict,

	// 500 Internal Server Error
	ErrInternalServer:      http.StatusInternalServerError,
	utils.ErrConfiguration: http.StatusInternalServerError,

	// 502 Bad Gateway
	utils.ErrGeocoding: http.StatusBadGateway,

	// 503 Service Unavailable
	ErrServiceUnavailable: http.StatusServiceUnavailable,

	// 504 Gateway Timeout
	utils.ErrTimeout: http.StatusGatewayTimeout,
}

// errorInfoMap maps errors to user-friendly messages and optional stop codes.
// Domain errors without an entry echo their own message.
var errorInfoMap = map[error]ErrorInfo{
	ErrUnauthorized: {
		Message:   "Authentication required",
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	jwt.ErrNonValidToken: {
		Message:   "Invalid or expired authentication token",
		StopCodes: []string{"AUTH_INVALID_TOKEN"},
	},
	ErrInvalidCredentials: {
		Message:   "Invalid credentials provided",
		StopCodes: []string{"AUTH_INVALID_CREDENTIALS"},
	},
	ErrForbidden: {
		Message:   "You don't have permission to perform this action",
		StopCodes: []string{"FORBIDDEN"},
	},
	ErrInvalidRequest: {
		Message:   "Invalid request format",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	ErrMissingParameter: {
		Message:   "Required parameter is missing",
		StopCodes: []string{"MISSING_PARAMETER"},
	},
	ErrInvalidParameter: {
		Message:   "Invalid parameter value",
		StopCodes: []string{"INVALID_PARAMETER"},
	},
	ErrInternalServer: {
		Message: "An internal error occurred",
	},
	ErrServiceUnavailable: {
		Message: "Service is temporarily unavailable",
	},
	utils.ErrGeocoding: {
		Message:   "Address could not be located",
		StopCodes: []string{"GEOCODING_FAILED"},
	},
	utils.ErrTimeout: {
		Message:   "Locker did not answer in time",
		StopCodes: []string{"DEVICE_TIMEOUT"},
	},
	utils.ErrConfiguration: {
		Message: "Service configuration error",
	},
}

// stopCodes tags domain errors whose message is passed through.
var stopCodes = map[error]string{
	utils.ErrConflict:      "CONFLICT",
	utils.ErrNotFound:      "NOT_FOUND",
	utils.ErrInvalidFormat: "INVALID_FORMAT",
	utils.ErrInvalidState:  "INVALID_STATE",
	access.ErrInvalidEmail: "INVALID_EMAIL",
	access.ErrMissingEmail: "MISSING_EMAIL",
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	if info, ok := errorInfoMap[err]; ok {
		return info
	}

	for knownErr, info := range errorInfoMap {
		if errors.Is(err, knownErr) {
			return info
		}
	}

	// Never leak internals of 5xx errors
	if GetErrorStatus(err) >= 500 {
		return ErrorInfo{Message: "An internal error occurred"}
	}
	info := ErrorInfo{Message: err.Error()}
	for knownErr, code := range stopCodes {
		if errors.Is(err, knownErr) {
			info.StopCodes = []string{code}
			break
		}
	}
	return info
}
