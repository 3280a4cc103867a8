package linebuf

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocLimit matches any *AllocLimitError with errors.Is.
	ErrAllocLimit = errors.New("allocation limit exceeded")

	// ErrInvalidRead is returned when a source reports an impossible byte count.
	ErrInvalidRead = errors.New("linebuf: reader returned invalid count")
)

// AllocLimitError is returned by Fill when holding the next line would take
// more memory than an ErrorAbove policy allows. Data already in Buffer is
// still valid and can be consumed.
type AllocLimitError struct {
	Limit int
}

func (e *AllocLimitError) Error() string {
	return fmt.Sprintf("configured allocation limit (%d) exceeded", e.Limit)
}

// Is reports whether target is ErrAllocLimit.
func (e *AllocLimitError) Is(target error) bool {
	return target == ErrAllocLimit
}
