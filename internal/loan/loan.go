package loan

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DateLayout is the wire format of LendRecord.LendDate.
const DateLayout = "2006-01-02"

// DefaultOverdueDays is how long a book may stay out before it counts as overdue.
const DefaultOverdueDays = 30

var (
	// ErrNotFound is returned when no lend record matches a lookup.
	ErrNotFound = errors.New("loan not found")
	// ErrValidation marks input rejected by the service. See ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrConstraintViolation is returned when the store refuses a row.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrStoreUnavailable is returned when the database cannot be reached in time.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LendRecord is one book lent to one borrower. A record lives until the book
// is returned, at which point it is deleted.
type LendRecord struct {
	ID            int64     `json:"id"`
	BookTitle     string    `json:"bookTitle"`
	BorrowerName  string    `json:"borrowerName"`
	BorrowerEmail string    `json:"borrowerEmail"`
	LendDate      time.Time `json:"lendDate"`
}

// MarshalJSON renders LendDate as a calendar date.
func (r LendRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            int64  `json:"id"`
		BookTitle     string `json:"bookTitle"`
		BorrowerName  string `json:"borrowerName"`
		BorrowerEmail string `json:"borrowerEmail"`
		LendDate      string `json:"lendDate"`
	}{
		ID:            r.ID,
		BookTitle:     r.BookTitle,
		BorrowerName:  r.BorrowerName,
		BorrowerEmail: r.BorrowerEmail,
		LendDate:      r.LendDate.Format(DateLayout),
	})
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (r *LendRecord) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID            int64  `json:"id"`
		BookTitle     string `json:"bookTitle"`
		BorrowerName  string `json:"borrowerName"`
		BorrowerEmail string `json:"borrowerEmail"`
		LendDate      string `json:"lendDate"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	var lendDate time.Time
	if wire.LendDate != "" {
		parsed, err := time.Parse(DateLayout, wire.LendDate)
		if err != nil {
			return fmt.Errorf("lendDate: %w", err)
		}
		lendDate = parsed
	}

	*r = LendRecord{
		ID:            wire.ID,
		BookTitle:     wire.BookTitle,
		BorrowerName:  wire.BorrowerName,
		BorrowerEmail: wire.BorrowerEmail,
		LendDate:      lendDate,
	}
	return nil
}

// truncateDate returns the UTC calendar day of t. Lend dates and the overdue
// cut-off are both derived through it so they share one clock.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FieldError describes a validation failure on a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}
