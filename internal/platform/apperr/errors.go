// Package apperr defines the error kinds shared by the settlement core and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Sentinel kinds. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrInvariant  = errors.New("computation invariant violated")
)

// ValidationError reports a missing or invalid input field. It is always
// returned before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a state clash with an existing record. ExistingID and
// ExistingRef identify that record so the caller can resolve it.
type ConflictError struct {
	Resource    string
	ExistingID  string
	ExistingRef string
	Message     string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Resource + " conflict"
	}
	switch {
	case e.ExistingRef != "" && e.ExistingID != "":
		return fmt.Sprintf("%s (existing %s %s, id %s)", msg, e.Resource, e.ExistingRef, e.ExistingID)
	case e.ExistingID != "":
		return fmt.Sprintf("%s (existing %s id %s)", msg, e.Resource, e.ExistingID)
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Conflict builds a ConflictError without an existing-record reference.
func Conflict(resource, format string, args ...interface{}) error {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned both for unknown ids and for ids owned by another
// pharmacy; the two cases are indistinguishable to the caller.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource string, id fmt.Stringer) error {
	ref := ""
	if id != nil {
		ref = id.String()
	}
	return &NotFoundError{Resource: resource, ID: ref}
}

// InvariantError marks a calculator output that broke one of its own
// post-conditions. It signals a policy bug and is never corrected in place.
type InvariantError struct {
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Rule, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// IsUniqueViolation reports whether err is a postgres unique_violation,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// NoRows reports whether err means the query matched nothing.
func NoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ToHTTP maps an error onto an echo HTTP error. Invariant failures never leak
// their detail to the client.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvariant):
		return echo.NewHTTPError(http.StatusInternalServerError, "internal computation error")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
