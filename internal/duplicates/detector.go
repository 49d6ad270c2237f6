// Package duplicates scans a user's transactions for near-duplicate
// clusters. It reuses the reconciliation confidence engine for pair
// scoring and honors previously dismissed groups, which are stored as
// exclusions keyed by exact transaction-id set.
package duplicates

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/internal/store"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// Params controls one detection run
type Params struct {
	// AmountTolerance is the absolute amount band for candidate pairs.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// DateToleranceDays is the maximum calendar-day distance between
	// candidates.
	DateToleranceDays int `json:"date_tolerance_days"`

	// SameAccountOnly restricts candidates to the seed's account.
	SameAccountOnly bool `json:"same_account_only"`

	// MinConfidence is the floor for cluster membership.
	MinConfidence float64 `json:"min_confidence"`

	// IncludeReviewed surfaces groups the user has already dismissed.
	IncludeReviewed bool `json:"include_reviewed"`
}

// DefaultParams returns the standard detection parameters
func DefaultParams() Params {
	return Params{
		AmountTolerance:   decimal.NewFromFloat(0.01),
		DateToleranceDays: 3,
		SameAccountOnly:   false,
		MinConfidence:     0.5,
		IncludeReviewed:   false,
	}
}

// Validate checks the params for malformed values
func (p Params) Validate() error {
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

	return nil
}

// matchParams converts detection params to the scoring params the
// confidence engine expects.
func (p Params) matchParams() matcher.MatchParams {
	return matcher.MatchParams{
		AmountTolerance:   p.AmountTolerance,
		DateToleranceDays: p.DateToleranceDays,
		MatchDescription:  true,
		MatchDateRange:    true,
		MinConfidence:     p.MinConfidence,
	}
}

// Result is the outcome of one detection run. Detection is read-only;
// groups are never persisted, only exclusions are.
type Result struct {
	Groups        []*models.DuplicateGroup `json:"groups"`
	ScannedCount  int                      `json:"scanned_count"`
	ExcludedCount int                      `json:"excluded_count"`
}

// Detector finds duplicate clusters in a user's transactions
type Detector struct {
	transactions store.TransactionStore
	exclusions   store.ExclusionStore
	engine       *matcher.ConfidenceEngine
	log          logger.Logger
}

// NewDetector creates a new duplicate detector
func NewDetector(transactions store.TransactionStore, exclusions store.ExclusionStore) *Detector {
	return &Detector{
		transactions: transactions,
		exclusions:   exclusions,
		engine:       matcher.NewConfidenceEngine(),
		log:          logger.WithComponent("duplicate_detector"),
	}
}

// FindDuplicates runs a single detection pass over all of the user's
// transactions. Each transaction seeds at most one group, and member
// ids are marked processed on cluster formation, so no transaction
// appears in two groups within one run. The scan checks ctx once per
// seed and aborts without partial results on cancellation.
func (d *Detector) FindDuplicates(ctx context.Context, userID string, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	transactions, err := d.transactions.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	excludedKeys := make(map[string]bool)
	if !params.IncludeReviewed {
		exclusions, err := d.exclusions.ListExclusions(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, exclusion := range exclusions {
			excludedKeys[models.ExclusionKey(exclusion.TransactionIDs)] = true
		}
	}

	mp := params.matchParams()
	processed := make(map[string]bool)

	result := &Result{ScannedCount: len(transactions)}

	for i, seed := range transactions {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
				"duplicate scan cancelled")
		}

		if processed[seed.ID] {
			continue
		}

		sourceRecord := matcher.RecordFromTransaction(seed)

		members := []*models.InternalTransaction{seed}
		maxConfidence := 0.0

		for j, candidate := range transactions {
			if i == j || processed[candidate.ID] {
				continue
			}

			if params.SameAccountOnly && candidate.AccountID != seed.AccountID {
				continue
			}

			score, ok := d.engine.ScoreEligible(sourceRecord, matcher.RecordFromTransaction(candidate), mp)
			if !ok || score < params.MinConfidence {
				continue
			}

			members = append(members, candidate)
			if score > maxConfidence {
				maxConfidence = score
			}
		}

		if len(members) < 2 {
			continue
		}

		// The cluster claims its members whether or not it is
		// surfaced, so a dismissed group's transactions do not reseed
		// smaller overlapping groups in the same run.
		ids := make([]string, len(members))
		for k, member := range members {
			ids[k] = member.ID
			processed[member.ID] = true
		}

		if excludedKeys[models.ExclusionKey(ids)] {
			result.ExcludedCount++
			continue
		}

		result.Groups = append(result.Groups, buildGroup(members, maxConfidence))
	}

	sortGroups(result.Groups)

	d.log.WithFields(logger.Fields{
		"user_id":  userID,
		"scanned":  result.ScannedCount,
		"groups":   len(result.Groups),
		"excluded": result.ExcludedCount,
	}).Debug("Duplicate scan completed")

	return result, nil
}

// Dismiss records the user's dismissal of a duplicate group. The
// exclusion suppresses any future group with exactly this id set.
func (d *Detector) Dismiss(ctx context.Context, userID string, transactionIDs []string) error {
	if len(transactionIDs) < 2 {
		return errors.Validation(errors.CodeInvalidValue,
			"transaction_ids", "a dismissal needs at least two transaction ids")
	}

	return d.exclusions.SaveExclusion(ctx, &models.DuplicateExclusion{
		UserID:         userID,
		TransactionIDs: transactionIDs,
		CreatedAt:      time.Now(),
	})
}

// buildGroup assembles the emitted group: seed description as the
// representative, total absolute amount, and the member date range.
func buildGroup(members []*models.InternalTransaction, maxConfidence float64) *models.DuplicateGroup {
	group := &models.DuplicateGroup{
		ID:            uuid.NewString(),
		MaxConfidence: maxConfidence,
		Description:   members[0].Description,
		TotalAmount:   decimal.Zero,
		EarliestDate:  members[0].Date,
		LatestDate:    members[0].Date,
	}

	for _, member := range members {
		group.TransactionIDs = append(group.TransactionIDs, member.ID)
		group.TotalAmount = group.TotalAmount.Add(member.Amount.Abs())

		if member.Date.Before(group.EarliestDate) {
			group.EarliestDate = member.Date
		}
		if member.Date.After(group.LatestDate) {
			group.LatestDate = member.Date
		}
	}

	return group
}

// sortGroups orders groups by highest confidence descending, then by
// total absolute amount descending.
func sortGroups(groups []*models.DuplicateGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].MaxConfidence != groups[j].MaxConfidence {
			return groups[i].MaxConfidence > groups[j].MaxConfidence
		}
		return groups[i].TotalAmount.GreaterThan(groups[j].TotalAmount)
	})
}
