package models

import "errors"

// Error taxonomy (spec §7). Transient-remote and permanent-remote
// errors originate in the Explorer Client; store and policy errors
// originate in the Graph Writer, Engine Facade and Mempool Monitor.
var (
	// Transient remote — retried inside the Explorer Client.
	ErrRateLimited = errors.New("explorer: rate limited")
	ErrUnavailable = errors.New("explorer: unavailable")

	// Permanent remote — not retried, terminal for the single call.
	ErrNotFound  = errors.New("explorer: not found")
	ErrMalformed = errors.New("explorer: malformed response")
	ErrUnspent   = errors.New("explorer: output unspent")

	// Surfaced to callers once retries inside the Explorer Client are exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// Store.
	ErrStoreUnavailable = errors.New("store: unavailable")

	// Policy.
	ErrBusy            = errors.New("busy")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrServiceDegraded = errors.New("service degraded")
)
