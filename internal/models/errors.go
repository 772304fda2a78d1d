package models

import "errors"

// Caller-visible failures. The gateway maps these to status codes.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrBadRequest      = errors.New("bad request")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUpstreamFetch   = errors.New("upstream fetch failed")
	ErrMisconfigured   = errors.New("upstream misconfigured")
	ErrNotFound        = errors.New("not found")
)

// Internal degradation signals. These select a fallback tier and never
// reach the caller.
var (
	ErrScoringDegraded   = errors.New("scoring degraded")
	ErrRetrievalDegraded = errors.New("retrieval degraded")
	ErrNarrativeDegraded = errors.New("narrative degraded")
)
