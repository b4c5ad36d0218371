package migrations

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoveryEmpty indicates reconstruction was asked for an application
	// without migration files.
	ErrDiscoveryEmpty = errors.New("application has no migration files")

	// ErrExtraction indicates a migration file does not have the expected
	// CreateModel / AlterField / field definition shape.
	ErrExtraction = errors.New("unexpected migration structure")
)

// ExtractionError describes where a migration file deviated from the
// expected shape. It unwraps to ErrExtraction.
type ExtractionError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %s", e.Path, e.Line, ErrExtraction, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return ErrExtraction
}
