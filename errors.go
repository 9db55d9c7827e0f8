package flashguard

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks failures of the underlying stores. It is never
	// collapsed into "not found": a Load returning an error wrapping
	// ErrUnavailable means "could not determine", while (ok=false, err=nil)
	// means "confirmed absent". Safe to retry with backoff at the caller's
	// discretion.
	ErrUnavailable = errors.New("flashguard: store unavailable")

	// ErrRetryExhausted is returned by the mutex strategy when the rebuild
	// lock stayed contended for the full attempt budget.
	ErrRetryExhausted = errors.New("flashguard: rebuild lock retries exhausted")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
