package tracker

import "errors"

var (
	// ErrInvalidBuckets is returned by New when the bucket count is not positive.
	ErrInvalidBuckets = errors.New("tracker: bucket count must be positive")
)
