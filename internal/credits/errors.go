package credits

import "errors"

var (
	// ErrQuotaExceeded indicates the owner has no credits available to reserve.
	ErrQuotaExceeded = errors.New("insufficient credits")
	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrUnknownTier indicates the requested tier is not in the catalog.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrInvalidReason indicates a grant reason outside the allowed set.
	ErrInvalidReason = errors.New("invalid ledger reason")
)
