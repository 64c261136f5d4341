package pipeline

import "fmt"

// PanicError wraps a panic recovered from a fetch implementation so it can
// flow through the normal per-item error path.
type PanicError struct {
	URL   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fetch of %s panicked: %v", e.URL, e.Value)
}
