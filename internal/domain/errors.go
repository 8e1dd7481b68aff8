package domain

import "errors"

// Validation errors are rejected immediately and never retried.
var (
	ErrEmptyQuery       = errors.New("query text must not be empty")
	ErrInvalidTopK      = errors.New("top_k must be a positive integer")
	ErrInvalidChunkSize = errors.New("chunk size must be a positive integer")
)

// Configuration errors are fatal for the operation that hit them.
var (
	ErrDimensionMismatch = errors.New("vector dimension does not match index dimension")
	ErrProviderMismatch  = errors.New("index was built with a different embedding provider")
	ErrSourceCollision   = errors.New("multiple transcript files map to the same source id")
)

// Provider errors. ErrRetryable marks failures that survived the bounded
// backoff policy; ErrPermanent marks failures that must not be retried.
var (
	ErrRetryable = errors.New("retryable provider error")
	ErrPermanent = errors.New("permanent provider error")
)

// ErrCorruptIndex signals unreadable index storage. Recoverable: the
// index can be rebuilt from the transcript directory.
var ErrCorruptIndex = errors.New("index storage is corrupt")
