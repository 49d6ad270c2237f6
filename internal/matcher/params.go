// Package matcher provides the confidence scoring core shared by
// reconciliation matching and duplicate detection.
//
// The scoring model combines four signals into a bounded confidence
// score for a pair of transaction records:
//   - amount proximity (absolute tolerance with a relative fallback)
//   - date proximity (same day, or within a day tolerance)
//   - description similarity (normalized edit distance)
//   - account identity
//
// Candidate pairs are hard-filtered before scoring: a pair outside the
// date tolerance, or outside both the absolute and the relative amount
// band, is never scored and never considered a match.
package matcher

import (
	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

// MatchParams holds the per-call tolerances and toggles for confidence
// scoring. The scoring weights themselves are fixed design constants
// and are not part of the params.
type MatchParams struct {
	// AmountTolerance is the absolute amount band within which two
	// amounts are treated as equal.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// DateToleranceDays is the maximum calendar-day distance for a
	// pair to be considered at all.
	DateToleranceDays int `json:"date_tolerance_days"`

	// MatchDescription enables the description similarity component.
	MatchDescription bool `json:"match_description"`

	// MatchDateRange enables date filtering and the date proximity
	// component. When disabled, date distance neither filters nor
	// scores.
	MatchDateRange bool `json:"match_date_range"`

	// MinConfidence is the floor below which fuzzy candidates are
	// discarded.
	MinConfidence float64 `json:"min_confidence"`

	// ExactDateToleranceDays is the day tolerance applied by the exact
	// matching pass. Zero requires the same calendar day.
	ExactDateToleranceDays int `json:"exact_date_tolerance_days"`
}

// DefaultMatchParams returns params with the standard tolerances:
// one cent of absolute amount tolerance, two days of date tolerance,
// both similarity toggles on, and a 0.5 confidence floor.
func DefaultMatchParams() MatchParams {
	return MatchParams{
		AmountTolerance:        decimal.NewFromFloat(0.01),
		DateToleranceDays:      2,
		MatchDescription:       true,
		MatchDateRange:         true,
		MinConfidence:          0.5,
		ExactDateToleranceDays: 0,
	}
}

// Validate checks the params for malformed values
func (p MatchParams) Validate() error {
	if p.AmountTolerance.IsNegative() {
		return errors.Validation(errors.CodeInvalidTolerance,
			"amount_tolerance", "amount tolerance cannot be negative")
	}

	if p.DateToleranceDays < 0 {
		return errors.Validation(errors.CodeInvalidTolerance,
			"date_tolerance_days", "date tolerance days cannot be negative")
	}

	if p.MinConfidence < 0.0 || p.MinConfidence > 1.0 {
		return errors.Validation(errors.CodeInvalidValue,
			"min_confidence", "minimum confidence must be between 0.0 and 1.0")
	}

	if p.ExactDateToleranceDays < 0 {
		return errors.Validation(errors.CodeInvalidTolerance,
			"exact_date_tolerance_days", "exact date tolerance days cannot be negative")
	}

	return nil
}
