package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState          = errors.New("invalid negotiation state")
	ErrRenegotiationInFlight = errors.New("renegotiation already in flight")
	ErrStableTimeout         = errors.New("timed out waiting for stable signaling state")
	ErrAnswerTimeout         = errors.New("timed out waiting for renegotiation answer")
	ErrGlare                 = errors.New("local offer rolled back for remote offer")
	ErrNothingToRollback     = errors.New("no pending offer")
	ErrMediaAttached         = errors.New("local media already attached")
	ErrClosed                = errors.New("negotiation closed")
)

// NegotiationError wraps a failed negotiation step. The coordinator is back
// in its previous stable state when one is returned.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}
