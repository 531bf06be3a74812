package nutripilot

import "errors"

// ErrUnavailable indicates a capability could not be reached at all.
var ErrUnavailable = errors.New("capability unavailable")

// ErrNotFound indicates a lookup found no match for its input.
var ErrNotFound = errors.New("not found")

// TransientError marks an error as retryable: timeouts, throttling, 5xx
// responses. The orchestrator retries transient failures and gives up
// immediately on everything else.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so IsTransient reports true for it. Wrapping nil
// returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err or anything it wraps was marked transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
