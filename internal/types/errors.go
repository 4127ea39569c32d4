package types

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	// Entry gating. These are logged with the skip and never returned to the
	// feed loop.
	ErrSlotOccupied     = errors.New("single-slot position already occupied")
	ErrThrottled        = errors.New("entry already taken this session")
	ErrStaleReference   = errors.New("session reference is not from the current session")
	ErrNotTradable      = errors.New("instrument not tradable")
	ErrKillSwitchActive = errors.New("kill switch active: system in safe mode")

	// Order routing and fill reconciliation
	ErrDuplicateOrder    = errors.New("duplicate order id")
	ErrOrderRejected     = errors.New("order rejected")
	ErrInvalidOrderSize  = errors.New("invalid order size")
	ErrUnknownOrder      = errors.New("unknown order id")
	ErrDuplicateFill     = errors.New("fill already reconciled")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Market data
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrInvalidData     = errors.New("invalid market data")
	ErrFeedGap         = errors.New("reference price unavailable")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
