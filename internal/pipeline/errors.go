// Package pipeline turns an uploaded price list into estimated demand and a
// profit score: parse, align, estimate, score, serialize.
package pipeline

import "errors"

// Pipeline errors. Callers match them with errors.Is.
var (
	ErrFormat       = errors.New("malformed submission")
	ErrShape        = errors.New("wrong number of rows")
	ErrAlignment    = errors.New("rows do not line up with the catalog")
	ErrEstimation   = errors.New("demand estimation failed")
	ErrNoPredictors = errors.New("no prediction functions registered")
	ErrOverflow     = errors.New("profit does not fit in 64 bits")
)
