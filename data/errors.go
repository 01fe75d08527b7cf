package data

import "errors"

var (
	// ErrUnknownDim is returned when a dataset's dimension names do not match
	// the processor configuration.
	ErrUnknownDim = errors.New("unknown dimension name")

	// ErrOutOfRange is returned in strict mode when a coordinate falls
	// outside its declared map range.
	ErrOutOfRange = errors.New("coordinate outside declared range")

	// ErrIndexNotFound is returned when a requested time index is absent
	// from a source dataset.
	ErrIndexNotFound = errors.New("time index not found")

	// ErrShapeMismatch is returned when coordinate and value arrays are not
	// aligned pointwise.
	ErrShapeMismatch = errors.New("coordinate/value shape mismatch")
)
