package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition means the RFO is not in a state that allows the
	// requested lifecycle change.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRFONotOpen means an offer operation arrived while the RFO was not
	// accepting bids.
	ErrRFONotOpen = errors.New("rfo not open")

	// ErrOfferExpired means the offer's valid_until has passed.
	ErrOfferExpired = errors.New("offer expired")

	// ErrForbidden means the caller is not the owner of the record, or lacks
	// the verification level the operation requires.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited means the per-vendor cooldown has not elapsed.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded means a plan or per-RFO cap was hit.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ValidationError rejects a single bad input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
