package model

import "errors"

// Error kinds shared by the analytics packages. Callers match with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrInvalidArgument marks caller input outside the accepted domain
	// (alpha outside (0,1), non-positive lookback, unknown method).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDataUnavailable marks a failed read from a collaborator store or
	// price source.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInsufficientData marks a computation that had too few observations.
	// VaR estimators report this through VarResult.Insufficient instead.
	ErrInsufficientData = errors.New("insufficient data")
)
