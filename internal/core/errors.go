package core

import (
	"errors"
	"fmt"
)

// Business errors.
var (
	// Identity errors.
	ErrMissingIdentity = errors.New("no usable device identity provided")
	ErrMissingMAC      = errors.New("mac address is required")
	ErrDeviceNotFound  = errors.New("device not found")

	// Ownership errors.
	ErrCompanyInactive   = errors.New("company is inactive")
	ErrUnauthorized      = errors.New("device belongs to another company")
	ErrMigrationNotFound = errors.New("no pending migration for this company")

	// Schedule errors.
	ErrGroupNotFound     = errors.New("group not found")
	ErrLoopStyleNotFound = errors.New("loop style not found")
	ErrTimeBlockNotFound = errors.New("time block not found")
	ErrTimeBlockLocked   = errors.New("time block is locked")
)

// BusinessError represents a business logic error with a code.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// ErrScheduleConflict rejects a time block overlapping an existing
	// same-type block.
	ErrScheduleConflict = BusinessError{"SCHEDULE_001", "time block overlaps an existing block of the same type"}

	// ErrInvalidLoopAssignment rejects a time block referencing the
	// group's default loop style.
	ErrInvalidLoopAssignment = BusinessError{"SCHEDULE_002", "time block may not reference the default loop style"}

	// ErrInvalidTimeBlock rejects a malformed block definition.
	ErrInvalidTimeBlock = BusinessError{"SCHEDULE_003", "invalid time block definition"}
)
