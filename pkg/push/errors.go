package push

import (
	"errors"
	"fmt"
)

// ErrNoURL rejects a delivery whose config carries no destination; no
// network I/O happens in that case.
var ErrNoURL = errors.New("push config has no url")

// ErrMaxAttempts reports an exhausted retry budget.
var ErrMaxAttempts = errors.New("push delivery exhausted max attempts")

// HTTPError is a final, non-retryable webhook response.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook rejected delivery with status %d", e.Status)
}
