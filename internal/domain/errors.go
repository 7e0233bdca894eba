package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "submit", "cancel", "balance")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable).
// It always unwraps to ErrInvalidConfig as well as the underlying cause.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

var (
	// ErrDataUnavailable is returned when a history or order-book refresh fails.
	// Prior state is kept and the refresh is retried on the next tick.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidConfig marks contradictory or missing configuration. Fatal at start-up.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrOrderRejected is returned when the marketplace refuses an order. Not retriable.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientBalance is returned when the balance guard blocks a new bid.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderNotFound is returned when cancelling an order that is already gone.
	ErrOrderNotFound = errors.New("order not found")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
