// Package domain holds the record kinds and error taxonomy shared by the
// registry's services and its HTTP surface.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags a record type. The archive stores rows of every kind in one table.
type Kind string

const (
	KindMember  Kind = "member"
	KindBaptism Kind = "baptism"
	KindWedding Kind = "wedding"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMember, KindBaptism, KindWedding:
		return true
	}
	return false
}

var (
	// ErrPermissionDenied is returned when a role lacks the required action.
	ErrPermissionDenied = errors.New("insufficient permissions")
	// ErrUnsupportedKind is returned when restoring a non-member archive entry.
	ErrUnsupportedKind = errors.New("only member records can be restored")
	// ErrInvalidSnapshot is returned when an archived snapshot lacks required fields.
	ErrInvalidSnapshot = errors.New("invalid archive data")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("record already exists")
)

// ValidationError reports bad input. Allowed lists the accepted values when
// the input must come from a fixed set.
type ValidationError struct {
	Field   string
	Reason  string
	Allowed []string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + e.Reason
	}
	if len(e.Allowed) > 0 {
		msg += " (allowed: " + strings.Join(e.Allowed, ", ") + ")"
	}
	return msg
}

// NotFoundError reports a missing live or archived row.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// StorageFault wraps a persistence failure. Its message is never shown to
// callers; only Op and the wrapped error are logged.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// Fault wraps err as a StorageFault unless it is already part of the
// taxonomy, in which case it is returned unchanged.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		nf *NotFoundError
		sf *StorageFault
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &nf), errors.As(err, &sf):
		return err
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnsupportedKind),
		errors.Is(err, ErrInvalidSnapshot), errors.Is(err, ErrConflict):
		return err
	}
	return &StorageFault{Op: op, Err: err}
}

// MissingFields builds a ValidationError for absent required fields.
func MissingFields(fields []string) *ValidationError {
	return &ValidationError{
		Field:  strings.Join(fields, ", "),
		Reason: "missing required fields",
	}
}
