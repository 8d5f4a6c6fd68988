package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrQuantityCap  = errors.New("purchase quantity cap reached")
)

// ErrorKind classifies a marketplace API failure for retry policy. The
// scheduler decides whether to retry based on the kind alone, never on the
// wording of the upstream response.
type ErrorKind int

const (
	// KindUnknown covers failures that could not be classified. Treated as
	// non-retryable.
	KindUnknown ErrorKind = iota

	// KindNetwork is a transport-level failure (connection reset, timeout).
	KindNetwork

	// KindRateLimited is an HTTP 429 from the marketplace.
	KindRateLimited

	// KindServerError is an HTTP 5xx from the marketplace.
	KindServerError

	// KindDuplicateOffer means an offer for this token already exists on the
	// books. The placement path must cancel the existing offer before
	// retrying.
	KindDuplicateOffer

	// KindInsufficientFunds means the payment wallet cannot cover the offer.
	KindInsufficientFunds

	// KindOfferNotFound means the referenced offer no longer exists.
	KindOfferNotFound

	// KindOfferCapExceeded means the wallet hit the marketplace's maximum
	// concurrent offer count.
	KindOfferCapExceeded
)

// String returns a short identifier for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindDuplicateOffer:
		return "duplicate_offer"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindOfferNotFound:
		return "offer_not_found"
	case KindOfferCapExceeded:
		return "offer_cap_exceeded"
	default:
		return "unknown"
	}
}

// Retryable reports whether the scheduler may retry a request that failed
// with this kind. Duplicate-offer conflicts are retryable only after the
// caller cancels the existing offer, so they are surfaced, not retried here.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimited || k == KindServerError
}

// APIError is a classified marketplace failure.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("marketplace: %s: %s (%d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("marketplace: %s: %s: %s", e.Op, e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Plain
// transport errors map to KindNetwork; anything else unclassified maps to
// KindUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}
