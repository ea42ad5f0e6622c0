package recording

import "errors"

var (
	ErrUnreachable  = errors.New("recording host unreachable")
	ErrTimeout      = errors.New("recording download timed out")
	ErrTooLarge     = errors.New("recording exceeds maximum allowed size")
	ErrUpstream     = errors.New("recording upstream returned an error status")
	ErrStorageWrite = errors.New("failed to write recording to object storage")
)

// Retryable reports whether a fetch error is worth another attempt.
// Oversized recordings never shrink, so ErrTooLarge is terminal.
func Retryable(err error) bool {
	return !errors.Is(err, ErrTooLarge)
}
