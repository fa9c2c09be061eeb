// Package errors provides standardized error handling for the academy service.
// Codes are grouped by the three failure classes the workflows distinguish:
// validation, collaborator and not-found.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the academy service.
type ErrorCode string

const (
	// Validation errors, detected before any network call
	ACD_VALIDATION      ErrorCode = "ACD_VALIDATION"      // General validation error
	ACD_BAD_REQUEST     ErrorCode = "ACD_BAD_REQUEST"     // Malformed request
	ACD_MEDIA_SIZE      ErrorCode = "ACD_MEDIA_SIZE"      // Upload size limit exceeded
	ACD_MEDIA_TYPE      ErrorCode = "ACD_MEDIA_TYPE"      // Upload type not allowed
	ACD_QUIZ_INCOMPLETE ErrorCode = "ACD_QUIZ_INCOMPLETE" // At least one question unanswered
	ACD_QUIZ_FAILED     ErrorCode = "ACD_QUIZ_FAILED"     // Score below the passing threshold

	// Authentication and access errors
	ACD_AUTHN               ErrorCode = "ACD_AUTHN"               // Missing or invalid operator token
	ACD_ACCESS_DENIED       ErrorCode = "ACD_ACCESS_DENIED"       // Learner holds no ticket or credential
	ACD_WALLET_DISCONNECTED ErrorCode = "ACD_WALLET_DISCONNECTED" // No active wallet account

	// Not-found errors, usually a consistency lag rather than an outage
	ACD_NOT_FOUND         ErrorCode = "ACD_NOT_FOUND"         // Ledger object or blob not found
	ACD_PROFILE_NOT_FOUND ErrorCode = "ACD_PROFILE_NOT_FOUND" // Instructor profile missing after creation

	// Collaborator errors
	ACD_BLOB_STORE  ErrorCode = "ACD_BLOB_STORE"  // Blob store rejected or failed a call
	ACD_LEDGER      ErrorCode = "ACD_LEDGER"      // Ledger node rejected or failed a call
	ACD_TX_REJECTED ErrorCode = "ACD_TX_REJECTED" // Transaction executed with a failure status

	// Server errors
	ACD_INTERNAL    ErrorCode = "ACD_INTERNAL"    // Internal server error
	ACD_UNAVAILABLE ErrorCode = "ACD_UNAVAILABLE" // Service unavailable
)

// Class groups error codes into the failure classes surfaced to users.
type Class string

const (
	ClassValidation   Class = "validation"
	ClassCollaborator Class = "collaborator"
	ClassNotFound     Class = "not_found"
	ClassAccess       Class = "access"
	ClassInternal     Class = "internal"
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
	Err           error       `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Wrap creates an Error that keeps the underlying cause for errors.Is/As.
func Wrap(code ErrorCode, message string, err error) *Error {
	e := New(code, message, "")
	e.Err = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Class reports which failure class the error belongs to.
func (e *Error) Class() Class {
	return ClassOf(e.Code)
}

// ClassOf maps an error code to its failure class.
func ClassOf(code ErrorCode) Class {
	switch code {
	case ACD_VALIDATION, ACD_BAD_REQUEST, ACD_MEDIA_SIZE, ACD_MEDIA_TYPE, ACD_QUIZ_INCOMPLETE, ACD_QUIZ_FAILED:
		return ClassValidation
	case ACD_BLOB_STORE, ACD_LEDGER, ACD_TX_REJECTED, ACD_UNAVAILABLE:
		return ClassCollaborator
	case ACD_NOT_FOUND, ACD_PROFILE_NOT_FOUND:
		return ClassNotFound
	case ACD_AUTHN, ACD_ACCESS_DENIED, ACD_WALLET_DISCONNECTED:
		return ClassAccess
	default:
		return ClassInternal
	}
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case ACD_VALIDATION, ACD_BAD_REQUEST, ACD_MEDIA_SIZE, ACD_MEDIA_TYPE, ACD_QUIZ_INCOMPLETE, ACD_QUIZ_FAILED:
		return http.StatusBadRequest
	case ACD_AUTHN:
		return http.StatusUnauthorized
	case ACD_ACCESS_DENIED:
		return http.StatusForbidden
	case ACD_WALLET_DISCONNECTED:
		return http.StatusConflict
	case ACD_NOT_FOUND, ACD_PROFILE_NOT_FOUND:
		return http.StatusNotFound
	case ACD_BLOB_STORE, ACD_LEDGER:
		return http.StatusBadGateway
	case ACD_TX_REJECTED:
		return http.StatusUnprocessableEntity
	case ACD_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
