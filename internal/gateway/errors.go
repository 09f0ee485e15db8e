package gateway

import (
	"errors"
	"fmt"
)

// ErrNoProviders means the enabled provider set resolved empty.
var ErrNoProviders = errors.New("no providers available")

// AllFailedError means every provider in the ordered list failed; it wraps
// the last attempt's error so quota phrasing from the backend stays visible.
type AllFailedError struct {
	Attempts int
	Last     error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all %d providers failed, last error: %v", e.Attempts, e.Last)
}

func (e *AllFailedError) Unwrap() error {
	return e.Last
}
