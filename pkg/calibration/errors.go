package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEnoughSamples is returned by Fit with fewer than three samples.
	ErrNotEnoughSamples = errors.New("calibration: not enough samples (min 3 required)")

	// ErrRankDeficient is returned by Fit when the samples do not span a
	// plane, e.g. every sample shares one pan angle.
	ErrRankDeficient = errors.New("calibration: points collinear (rank deficient)")

	// ErrInvalidSample is returned for non-finite sample values.
	ErrInvalidSample = errors.New("calibration: sample values must be finite")
)

// FitError describes a failed fit. It matches its sentinel with errors.Is.
type FitError struct {
	Reason  string `json:"reason"`
	Samples int    `json:"samples"`
	Rank    int    `json:"rank"`

	err error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("%v: samples=%d rank=%d", e.err, e.Samples, e.Rank)
}

func (e *FitError) Unwrap() error { return e.err }
