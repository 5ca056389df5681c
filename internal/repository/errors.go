// Package repository implements persistence over the relational store.
// Multi-statement business actions (enrollment, lead conversion, token
// rotation, password change) are exposed as single methods that own their
// transaction: they commit on success and roll back on any failure, so
// partial writes are never observable.
package repository

import (
	"errors"
	"strings"
)

// Sentinel errors shared across repositories. Handlers translate them into
// client-visible status categories; raw store errors are never surfaced.
var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation cannot proceed because of
	// dependent state, e.g. deleting a cycle that still has enrollments.
	ErrConflict = errors.New("conflict")

	// ErrEmailExists is returned when registering an email that is taken.
	ErrEmailExists = errors.New("email already exists")

	// ErrPhoneExists is returned when a lead with the phone already exists.
	ErrPhoneExists = errors.New("phone already exists")

	// ErrCycleFull is returned when a cycle has no seats left.
	ErrCycleFull = errors.New("cycle is full")

	// ErrAlreadyEnrolled is returned for a duplicate (user, cycle) pair.
	ErrAlreadyEnrolled = errors.New("already enrolled")

	// ErrLeadClosed is returned when converting a lead that already left
	// the pipeline.
	ErrLeadClosed = errors.New("lead already closed")

	// ErrInvalidToken is returned when a renewable credential is absent
	// from the store, expired, or tied to a different user. It reads the
	// same as a signature failure on purpose.
	ErrInvalidToken = errors.New("invalid token")
)

// isDuplicate reports whether err is a MySQL duplicate-key violation (1062).
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
