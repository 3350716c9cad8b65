package domain

import "errors"

// Error kinds reported by the core. The first four are caller errors and
// never leave partial state behind; ErrQuoteUnavailable is a soft condition
// callers degrade on; ErrReductionLimitExceeded accompanies the best partial
// reduction the sizer reached.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrNoSuchHolding          = errors.New("no such holding")
	ErrQuoteUnavailable       = errors.New("quote unavailable")
	ErrReductionLimitExceeded = errors.New("reduction limit exceeded")
)
