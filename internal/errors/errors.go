package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Protocol
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"

	// Authentication
	ErrCodeCodeExpired       ErrorCode = "CODE_EXPIRED"
	ErrCodeCodeInvalid       ErrorCode = "CODE_INVALID"
	ErrCodeTokenInvalid      ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Authorization
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"

	// Transport
	ErrCodeTransportClosed    ErrorCode = "TRANSPORT_CLOSED"
	ErrCodeTooManyConnections ErrorCode = "TOO_MANY_CONNECTIONS"
	ErrCodePortUnavailable    ErrorCode = "PORT_UNAVAILABLE"

	// Resource
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Kind groups error codes by how they are handled.
type Kind string

const (
	KindProtocol   Kind = "protocol"
	KindAuth       Kind = "auth"
	KindPermission Kind = "permission"
	KindTransport  Kind = "transport"
	KindPortBind   Kind = "port_bind"
	KindRequest    Kind = "request"
	KindInternal   Kind = "internal"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// Kind reports the category of the error code.
func (e *AppError) Kind() Kind {
	return KindOf(e.Code)
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func KindOf(code ErrorCode) Kind {
	switch code {
	case ErrCodeInvalidMessage:
		return KindProtocol
	case ErrCodeCodeExpired, ErrCodeCodeInvalid, ErrCodeTokenInvalid,
		ErrCodeTokenExpired, ErrCodeRateLimitExceeded:
		return KindAuth
	case ErrCodeNotAuthenticated, ErrCodePermissionDenied, ErrCodeUnauthorized:
		return KindPermission
	case ErrCodeTransportClosed, ErrCodeTooManyConnections:
		return KindTransport
	case ErrCodePortUnavailable:
		return KindPortBind
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodePayloadTooLarge:
		return KindRequest
	default:
		return KindInternal
	}
}

// Common error constructors

func InvalidMessage() *AppError {
	return New(ErrCodeInvalidMessage, "Invalid message format")
}

func CodeExpired() *AppError {
	return New(ErrCodeCodeExpired, "Pairing code has expired")
}

func CodeInvalid() *AppError {
	return New(ErrCodeCodeInvalid, "Invalid or expired pairing code")
}

func TokenInvalid() *AppError {
	return New(ErrCodeTokenInvalid, "Invalid token")
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Token has expired")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Too many pairing attempts")
}

func NotAuthenticated() *AppError {
	return New(ErrCodeNotAuthenticated, "Not authenticated")
}

// PermissionDenied names the missing capability the way clients display it,
// e.g. "No volume permission".
func PermissionDenied(capability string) *AppError {
	return New(ErrCodePermissionDenied, fmt.Sprintf("No %s permission", capability))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func TransportClosed() *AppError {
	return New(ErrCodeTransportClosed, "Connection closed")
}

func TooManyConnections(limit int) *AppError {
	return New(ErrCodeTooManyConnections, fmt.Sprintf("Connection limit of %d reached", limit))
}

func PortUnavailable(firstPort, attempts int, cause error) *AppError {
	return Wrap(ErrCodePortUnavailable,
		fmt.Sprintf("No free port in %d-%d", firstPort, firstPort+attempts-1), cause)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func PayloadTooLarge(limit int64) *AppError {
	return New(ErrCodePayloadTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
