package allocator

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when the heap cannot grow enough to satisfy a request.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvariantViolation is returned by Check when the heap structure is corrupted.
	ErrInvariantViolation = errors.New("heap invariant violation")

	ErrMisalignedHeap = errors.New("heap break is not 8-byte aligned")
)

func violation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}
