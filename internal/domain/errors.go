package domain

import (
	"errors"
	"fmt"
)

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

// ExternalServiceError is a failure of a collaborator outside the process:
// reputation sites, the bot service, the listing service or the price feed.
type ExternalServiceError struct {
	Service   string // e.g. "bans", "bot", "listings", "pricefeed"
	Op        string // Operation that failed
	Err       error  // Underlying error
	Retriable bool
}

func (e *ExternalServiceError) Error() string {
	return e.Service + " " + e.Op + ": " + e.Err.Error()
}

func (e *ExternalServiceError) IsRetriable() bool {
	return e.Retriable
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError creates a retriable external service error
func NewExternalServiceError(service, op string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Op: op, Err: err, Retriable: true}
}

// NewFatalExternalServiceError creates a non-retriable external service error
func NewFatalExternalServiceError(service, op string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Op: op, Err: err, Retriable: false}
}

// ValidationError marks an offer that is structurally unusable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// ConcurrencyError is returned when an instance is already held by another owner.
type ConcurrencyError struct {
	InstanceID string
	Holder     string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("instance %s already reserved by %s", e.InstanceID, e.Holder)
}

// ConfigError represents a configuration error (never retriable)
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

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrPriceNotFound is returned when no price list entry exists for a SKU.
	ErrPriceNotFound = errors.New("price not found")

	// ErrNoAvailableInstance is returned when no unreserved instance of an item is held.
	ErrNoAvailableInstance = errors.New("no available instance")

	// ErrOfferNotFound is returned when the bot service does not know the offer.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrInvalidRate is returned when an exchange rate cannot be used for conversion.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrUpdateFailed is returned when a price update cannot be stored.
	ErrUpdateFailed = errors.New("price update failed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
