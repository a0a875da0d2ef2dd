package models

import "errors"

// Common errors for mount service entities.
var (
	// Target errors
	ErrTargetNotFound  = errors.New("backup target not found")
	ErrDuplicateTarget = errors.New("backup target already exists")

	// Job errors
	ErrJobNotFound = errors.New("job not found")

	// Ledger errors
	ErrLedgerEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateLedgerEntry = errors.New("ledger entry already exists")
)
