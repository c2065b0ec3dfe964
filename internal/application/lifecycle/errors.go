package lifecycle

import "errors"

// Validation errors not already owned by a domain package. The adapter maps
// the full taxonomy to HTTP statuses; see infrastructure/http.
var (
	ErrUnknownMenuItem      = errors.New("lifecycle: unknown menu item")
	ErrTableUnavailable     = errors.New("lifecycle: table unavailable")
	ErrInvalidPaymentMethod = errors.New("lifecycle: invalid payment method")
)

// Infrastructure errors surfaced to the adapter as retriable.
var (
	ErrPersistenceUnavailable = errors.New("lifecycle: persistence unavailable")
	ErrLockTimeout            = errors.New("lifecycle: lock timeout")
)
