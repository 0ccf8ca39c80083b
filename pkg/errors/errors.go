package apperrors

import "errors"

// Standardized exchange errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// ErrThinBook means the visible order book cannot absorb the requested
	// notional, so no slippage estimate exists.
	ErrThinBook = errors.New("order book too thin")
)

// Store and coordination errors
var (
	// ErrStoreBusy is raised when a write transaction cannot acquire the
	// database within the short busy timeout. Callers abandon the cycle
	// and retry on the next one instead of blocking.
	ErrStoreBusy = errors.New("state store busy")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("record not found")
	ErrAlreadyExists     = errors.New("record already exists")
)

// Trading control errors
var (
	ErrKillSwitchActive = errors.New("kill switch active")
	ErrStalePrice       = errors.New("price data stale")
	ErrBudgetExceeded   = errors.New("llm budget exceeded")
	ErrParse            = errors.New("unparseable response")
	ErrBreakerOpen      = errors.New("circuit breaker open")
)

// Retryable reports whether an error is a transient external fault worth a
// bounded backoff retry. Anything else propagates as persistent.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrSystemOverload) ||
		errors.Is(err, ErrExchangeMaintenance) ||
		errors.Is(err, ErrTimestampOutOfBounds)
}
