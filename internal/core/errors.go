// Package core defines sentinel errors and protocol-wide constants.
package core

import "errors"

// Sentinel errors. Call sites wrap them with context; callers match with errors.Is.
var (
	// Wire classification errors
	ErrFormat      = errors.New("lappd: datagram is neither a hit fragment nor an event header")
	ErrShortBuffer = errors.New("lappd: buffer too short")
	ErrResolution  = errors.New("lappd: unsupported resolution code")
	ErrOffsetRange = errors.New("lappd: offset out of range")

	// Hit reassembly errors
	ErrDuplicateFragment = errors.New("lappd: duplicate fragment")
	ErrInconsistentHit   = errors.New("lappd: inconsistent hit")
	ErrEmptyPayload      = errors.New("lappd: empty fragment payload")

	// Event tracking errors
	ErrDuplicateEvent = errors.New("lappd: event header collides with a tracked event")

	// Configuration errors
	ErrConfigInvalid = errors.New("lappd: invalid configuration")

	// Plugin errors
	ErrReporterNotFound   = errors.New("lappd: reporter not found")
	ErrReporterInitFailed = errors.New("lappd: reporter init failed")
)
