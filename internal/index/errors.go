package index

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches both lookup failures below.
	ErrNotFound = errors.New("not found in index")
	// ErrDateNotFound means the future index has no bucket for the date.
	ErrDateNotFound = fmt.Errorf("date key %w", ErrNotFound)
	// ErrIDNotFound means the delivery id is not in the bucket or set.
	ErrIDNotFound = fmt.Errorf("delivery id %w", ErrNotFound)
)
