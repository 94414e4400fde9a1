package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestKinds_MatchWithErrorsIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"validation", Invalid("insured_number", "is required"), ErrValidation},
		{"conflict", &ConflictError{Resource: "cash session", ExistingID: "abc"}, ErrConflict},
		{"not found", NotFound("invoice", uuid.New()), ErrNotFound},
		{"invariant", &InvariantError{Rule: "line_total", Detail: "x"}, ErrInvariant},
		{"wrapped", fmt.Errorf("create invoice: %w", Invalid("lines", "empty")), ErrValidation},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("%s: expected errors.Is to match", tt.name)
		}
	}
}

func TestConflictError_NamesExistingRecord(t *testing.T) {
	err := &ConflictError{
		Resource:    "cash session",
		ExistingID:  "1111",
		ExistingRef: "CS-20261015-001",
		Message:     "drawer POS-1 already has an open session",
	}
	want := "drawer POS-1 already has an open session (existing cash session CS-20261015-001, id 1111)"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := Invalid("quantity", "must be positive, got %d", 0)
	if err.Error() != "quantity: must be positive, got 0" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_open_session_per_drawer"})
	if !IsUniqueViolation(err, "") {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(err, "uq_open_session_per_drawer") {
		t.Error("expected unique violation for named constraint")
	}
	if IsUniqueViolation(err, "other") {
		t.Error("expected constraint name mismatch")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
}

func TestNoRows(t *testing.T) {
	if !NoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to match")
	}
	if NoRows(errors.New("boom")) {
		t.Error("unexpected match")
	}
}

func TestToHTTP(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{Invalid("x", "bad"), http.StatusBadRequest},
		{NotFound("sale", nil), http.StatusNotFound},
		{Conflict("invoice", "already paid"), http.StatusConflict},
		{&InvariantError{Rule: "r", Detail: "secret"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusForbidden, "no"), http.StatusForbidden},
	}
	for _, tt := range tests {
		he := ToHTTP(tt.err)
		if he.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, he.Code)
		}
	}
	if msg := ToHTTP(&InvariantError{Rule: "r", Detail: "secret"}).Message; msg != "internal computation error" {
		t.Errorf("invariant detail leaked: %v", msg)
	}
	if ToHTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
