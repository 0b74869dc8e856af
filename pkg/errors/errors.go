package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// Relay errors. Everything except ErrStoreUnavailable is a client mistake.
var (
	ErrEmptyContent       = errors.New("message content is required")
	ErrInvalidContent     = errors.New("invalid message content")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrUnresolvedSender   = errors.New("sender could not be resolved")
	ErrSenderMismatch     = errors.New("sender does not match authenticated user")
	ErrOperatorForbidden  = errors.New("not authorized as operator")
	ErrMissingReceiver    = errors.New("receiver is required")
	ErrSessionClosed      = errors.New("connection is closed")
	ErrStoreUnavailable   = errors.New("message store unavailable")
	ErrReservedOperatorID = errors.New("user id is reserved for the operator")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// IsValidation reports whether err was caused by the client's input rather than
// by a collaborator outage.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrInvalidContent),
		errors.Is(err, ErrInvalidMessageType),
		errors.Is(err, ErrUnresolvedSender),
		errors.Is(err, ErrSenderMismatch),
		errors.Is(err, ErrOperatorForbidden),
		errors.Is(err, ErrMissingReceiver),
		errors.Is(err, ErrSessionClosed):
		return true
	}
	return false
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired), errors.Is(err, ErrUnresolvedSender):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrOperatorForbidden),
		errors.Is(err, ErrSenderMismatch), errors.Is(err, ErrReservedOperatorID):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBadRequest), IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
