package repository

import "errors"

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("record already exists")
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotPending is returned when a recipient has already reached a
	// terminal status and cannot be updated again.
	ErrNotPending = errors.New("recipient is not pending")
	// ErrLedgerMismatch is returned when the sent recipient count of a
	// campaign differs from its ledger row count.
	ErrLedgerMismatch = errors.New("delivery ledger does not match recipient statuses")
)
