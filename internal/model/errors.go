package model

import "errors"

var (
	// ErrSourceUnavailable is returned by a tier that cannot serve a fetch
	// (missing credentials, network failure, authorization or rate limit).
	// The adapter recovers from it by moving to the next tier.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrDataUnavailable means every tier failed.
	ErrDataUnavailable = errors.New("data unavailable")
)
