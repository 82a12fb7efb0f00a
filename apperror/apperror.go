// Package apperror holds the domain errors shared by every component. Each
// error carries the HTTP status and message the API boundary responds with.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	NotFound
	Conflict
	Unauthorized
	Validation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "unauthorized"
	case Validation:
		return "validation"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on kind and message so that errors built with New compare equal
// to the package-level values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// WriteJSON answers with the error's status and a {"message": ...} body.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": e.Message})
}

func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

var (
	ErrUserNotFound       = New(NotFound, http.StatusNotFound, "User not found")
	ErrSenderNotFound     = New(NotFound, http.StatusNotFound, "Sender not found")
	ErrStatementNotFound  = New(NotFound, http.StatusNotFound, "Statement not found")
	ErrUserAlreadyExists  = New(Conflict, http.StatusBadRequest, "User already exists")
	ErrInvalidCredentials = New(Unauthorized, http.StatusUnauthorized, "Incorrect email or password")
	ErrTokenMissing       = New(Unauthorized, http.StatusUnauthorized, "JWT token is missing")
	ErrInvalidToken       = New(Unauthorized, http.StatusUnauthorized, "JWT invalid token!")
	ErrInsufficientFunds  = New(Validation, http.StatusBadRequest, "Insufficient funds")
	ErrInvalidAmount      = New(Validation, http.StatusBadRequest, "Amount must be greater than zero with at most two decimal places")
	ErrAmountTooLarge     = New(Validation, http.StatusBadRequest, "Amount must not exceed 9999999999.99")
	ErrDescriptionTooLong = New(Validation, http.StatusBadRequest, "Description must be at most 255 characters")
	ErrSelfTransfer       = New(Validation, http.StatusBadRequest, "Cannot transfer to your own account")
)

// From extracts the domain error from err's chain. The boolean is false for
// anything unanticipated.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports Internal for errors that are not domain errors.
func KindOf(err error) Kind {
	if appErr, ok := From(err); ok {
		return appErr.Kind
	}
	return Internal
}
