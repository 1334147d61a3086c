package versioned

import "errors"

// Sentinel errors. Every failure returned by this package wraps exactly one
// of them, so callers branch with errors.Is.
var (
	ErrNotFound        = errors.New("versioned: not found")
	ErrAlreadyExists   = errors.New("versioned: already exists")
	ErrConflict        = errors.New("versioned: conflict")
	ErrInvalidArgument = errors.New("versioned: invalid argument")

	// ErrBackend marks storage or transport failures raised by a Backend.
	ErrBackend = errors.New("versioned: backend failure")
)
