package pipeline

import "errors"

// ErrNoMessage is the input error for an empty question.
var ErrNoMessage = errors.New("No message provided")

// InputError means the request itself was unusable.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// ContextLoadError means the profile document could not be loaded. Its
// message is fixed so storage details never reach a visitor; the cause is
// available through Unwrap.
type ContextLoadError struct {
	Err error
}

func (e *ContextLoadError) Error() string { return "Failed to get context data" }
func (e *ContextLoadError) Unwrap() error { return e.Err }

// UpstreamError means the completion call failed.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }
