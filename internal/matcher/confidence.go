package matcher

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/models"
)

// Scoring weights. These are fixed design constants; the relative
// importance of amount, date, description and account signals is part
// of the matching contract, not a tuning knob.
const (
	amountScoreFull    = 0.40
	amountScorePartial = 0.20

	dateScoreSameDay  = 0.30
	dateScoreInRange  = 0.20

	descScoreStrong = 0.20
	descScoreGood   = 0.15
	descScoreWeak   = 0.10

	accountBonus = 0.10

	externalIDPenalty = 0.30
)

// relativeAmountBand is the fraction of the source amount tolerated
// when the absolute tolerance is exceeded. Small transactions need an
// absolute floor, large ones need a relative band.
var relativeAmountBand = decimal.NewFromFloat(0.05)

// Record is one side of a scored pair. Both internal transactions and
// bank statement lines reduce to this shape before scoring.
type Record struct {
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	AccountID   string
	ExternalID  string
}

// RecordFromTransaction converts an internal transaction for scoring
func RecordFromTransaction(tx *models.InternalTransaction) Record {
	return Record{
		Amount:      tx.Amount,
		Date:        tx.Date,
		Description: tx.Description,
		AccountID:   tx.AccountID,
		ExternalID:  tx.ExternalID,
	}
}

// RecordFromBankLine converts a bank statement line for scoring. The
// statement's owning account is supplied by the caller since lines do
// not carry one themselves.
func RecordFromBankLine(line *models.BankTransactionLine, accountID string) Record {
	return Record{
		Amount:      line.Amount,
		Date:        line.Date,
		Description: line.Description,
		AccountID:   accountID,
		ExternalID:  line.Reference,
	}
}

// ConfidenceEngine combines amount, date, description and account
// signals into a bounded [0, 1] confidence score for a pair of
// records. It is stateless and safe for concurrent use.
type ConfidenceEngine struct{}

// NewConfidenceEngine creates a new confidence engine
func NewConfidenceEngine() *ConfidenceEngine {
	return &ConfidenceEngine{}
}

// WithinTolerances applies the hard filters that gate scoring: the
// pair must be within the date tolerance (when date matching is
// enabled) and within either the absolute or the relative amount band.
// Pairs failing these are never scored and never considered matches.
func (e *ConfidenceEngine) WithinTolerances(source, candidate Record, params MatchParams) bool {
	if params.MatchDateRange {
		if DateDiffDays(source.Date, candidate.Date) > params.DateToleranceDays {
			return false
		}
	}

	diff := source.Amount.Sub(candidate.Amount).Abs()
	if diff.LessThanOrEqual(params.AmountTolerance) {
		return true
	}

	return diff.LessThanOrEqual(source.Amount.Abs().Mul(relativeAmountBand))
}

// Score computes the confidence score for a pair that passed the hard
// filters. The result is clamped to [0, 1] for any input, including
// pairs whose external-id penalty drives the raw sum negative.
func (e *ConfidenceEngine) Score(source, candidate Record, params MatchParams) float64 {
	score := e.amountScore(source, candidate, params)

	if params.MatchDateRange {
		score += e.dateScore(source.Date, candidate.Date, params)
	}

	if params.MatchDescription {
		score += e.descriptionScore(source.Description, candidate.Description)
	}

	if source.AccountID != "" && source.AccountID == candidate.AccountID {
		score += accountBonus
	}

	if source.ExternalID != "" && candidate.ExternalID != "" && source.ExternalID != candidate.ExternalID {
		score -= externalIDPenalty
	}

	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// ScoreEligible filters and scores in one step. It returns the score
// and whether the pair passed the hard filters.
func (e *ConfidenceEngine) ScoreEligible(source, candidate Record, params MatchParams) (float64, bool) {
	if !e.WithinTolerances(source, candidate, params) {
		return 0.0, false
	}
	return e.Score(source, candidate, params), true
}

// amountScore awards the full weight inside the absolute tolerance and
// the partial weight inside the relative band.
func (e *ConfidenceEngine) amountScore(source, candidate Record, params MatchParams) float64 {
	diff := source.Amount.Sub(candidate.Amount).Abs()

	if diff.LessThanOrEqual(params.AmountTolerance) {
		return amountScoreFull
	}

	if diff.LessThanOrEqual(source.Amount.Abs().Mul(relativeAmountBand)) {
		return amountScorePartial
	}

	return 0.0
}

// dateScore awards the full weight for the same calendar day and the
// partial weight within the day tolerance.
func (e *ConfidenceEngine) dateScore(a, b time.Time, params MatchParams) float64 {
	days := DateDiffDays(a, b)

	if days == 0 {
		return dateScoreSameDay
	}

	if days <= params.DateToleranceDays {
		return dateScoreInRange
	}

	return 0.0
}

// descriptionScore maps the similarity of the trimmed descriptions to
// the tiered description weight.
func (e *ConfidenceEngine) descriptionScore(a, b string) float64 {
	sim := Similarity(a, b)

	switch {
	case sim > 0.9:
		return descScoreStrong
	case sim > 0.7:
		return descScoreGood
	case sim > 0.5:
		return descScoreWeak
	}

	return 0.0
}

// DateDiffDays returns the absolute distance between two dates in
// calendar days, ignoring time of day.
func DateDiffDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)

	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}

	return int(diff.Hours() / 24)
}

// SameCalendarDay reports whether two timestamps fall on the same day
func SameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
