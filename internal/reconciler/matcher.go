// Package reconciler implements statement matching: pairing imported
// bank statement lines with internally recorded transactions through
// an exact pass followed by a confidence-scored fuzzy pass.
//
// Matching is a pure computation over the supplied slices. Claim
// bookkeeping (which lines and transactions a pass has consumed) is
// kept in run-local sets, never on the domain entities, so a matching
// run leaves its inputs untouched.
package reconciler

import (
	"sort"

	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// MatchedPair is one bank line paired with one internal transaction
type MatchedPair struct {
	BankLine    *models.BankTransactionLine `json:"bank_line"`
	Transaction *models.InternalTransaction `json:"transaction"`
	Method      models.MatchMethod          `json:"method"`
	Confidence  float64                     `json:"confidence"`
}

// MatchingResult is the complete outcome of one matching run
type MatchingResult struct {
	// Matches is ordered highest confidence first; exact matches
	// therefore precede fuzzy ones.
	Matches           []MatchedPair                 `json:"matches"`
	UnmatchedBank     []*models.BankTransactionLine `json:"unmatched_bank"`
	UnmatchedInternal []*models.InternalTransaction `json:"unmatched_internal"`

	// OverallMatchPercentage is matched pairs over total items
	// (matches + unmatched on both sides) times 100. A run with zero
	// candidates on both sides is vacuously 100.
	OverallMatchPercentage float64 `json:"overall_match_percentage"`
}

// Matcher produces MatchingResults from statement lines and candidate
// internal transactions. It is stateless across runs and safe for
// concurrent use; all per-run state lives on the stack.
type Matcher struct {
	engine *matcher.ConfidenceEngine
	log    logger.Logger
}

// NewMatcher creates a new reconciliation matcher
func NewMatcher() *Matcher {
	return &Matcher{
		engine: matcher.NewConfidenceEngine(),
		log:    logger.WithComponent("reconciliation_matcher"),
	}
}

// Match runs the exact pass then the fuzzy pass over the given bank
// lines and internal transactions. accountID is the account the
// statement belongs to; it feeds the same-account scoring signal.
func (m *Matcher) Match(
	bankLines []*models.BankTransactionLine,
	transactions []*models.InternalTransaction,
	accountID string,
	params matcher.MatchParams,
) (*MatchingResult, error) {

	if err := params.Validate(); err != nil {
		return nil, err
	}

	// Lines are claimed by slice position, not by reference key, so
	// statements carrying duplicate references still place every line
	// in exactly one output bucket.
	claimedLines := make(map[int]bool)
	claimedTxs := make(map[string]bool)

	var matches []MatchedPair

	// Exact pass: identical amount and a date inside the exact-date
	// tolerance, with exactly one unclaimed candidate.
	for i, line := range bankLines {
		tx := m.findExactCandidate(line, transactions, claimedTxs, params)
		if tx == nil {
			continue
		}

		matches = append(matches, MatchedPair{
			BankLine:    line,
			Transaction: tx,
			Method:      models.MatchExact,
			Confidence:  1.0,
		})
		claimedLines[i] = true
		claimedTxs[tx.ID] = true
	}

	exactCount := len(matches)

	// Fuzzy pass over whatever both passes have not yet claimed.
	for i, line := range bankLines {
		if claimedLines[i] {
			continue
		}

		tx, confidence := m.findFuzzyCandidate(line, transactions, claimedTxs, accountID, params)
		if tx == nil {
			continue
		}

		matches = append(matches, MatchedPair{
			BankLine:    line,
			Transaction: tx,
			Method:      models.MatchFuzzy,
			Confidence:  confidence,
		})
		claimedLines[i] = true
		claimedTxs[tx.ID] = true
	}

	SortMatchesByConfidence(matches)

	result := &MatchingResult{Matches: matches}

	for i, line := range bankLines {
		if !claimedLines[i] {
			result.UnmatchedBank = append(result.UnmatchedBank, line)
		}
	}

	for _, tx := range transactions {
		if !claimedTxs[tx.ID] {
			result.UnmatchedInternal = append(result.UnmatchedInternal, tx)
		}
	}

	result.OverallMatchPercentage = matchPercentage(
		len(result.Matches), len(result.UnmatchedBank), len(result.UnmatchedInternal))

	m.log.WithFields(logger.Fields{
		"bank_lines":      len(bankLines),
		"transactions":    len(transactions),
		"exact_matches":   exactCount,
		"fuzzy_matches":   len(matches) - exactCount,
		"unmatched_bank":  len(result.UnmatchedBank),
		"unmatched_app":   len(result.UnmatchedInternal),
		"match_percent":   result.OverallMatchPercentage,
	}).Debug("Matching run completed")

	return result, nil
}

// findExactCandidate returns the unique unclaimed transaction with an
// identical amount and a date within the exact-date tolerance, or nil
// when none or more than one exists. Ambiguous exact candidates are
// left for the fuzzy pass to disambiguate by confidence.
func (m *Matcher) findExactCandidate(
	line *models.BankTransactionLine,
	transactions []*models.InternalTransaction,
	claimedTxs map[string]bool,
	params matcher.MatchParams,
) *models.InternalTransaction {

	var found *models.InternalTransaction

	for _, tx := range transactions {
		if claimedTxs[tx.ID] {
			continue
		}

		if !tx.Amount.Equal(line.Amount) {
			continue
		}

		if matcher.DateDiffDays(tx.Date, line.Date) > params.ExactDateToleranceDays {
			continue
		}

		if found != nil {
			return nil // ambiguous
		}
		found = tx
	}

	return found
}

// findFuzzyCandidate scores every unclaimed transaction against the
// line and returns the best candidate at or above the confidence
// floor. Ties break by earliest transaction date, then lowest id.
func (m *Matcher) findFuzzyCandidate(
	line *models.BankTransactionLine,
	transactions []*models.InternalTransaction,
	claimedTxs map[string]bool,
	accountID string,
	params matcher.MatchParams,
) (*models.InternalTransaction, float64) {

	source := matcher.RecordFromBankLine(line, accountID)

	var best *models.InternalTransaction
	var bestScore float64

	for _, tx := range transactions {
		if claimedTxs[tx.ID] {
			continue
		}

		score, ok := m.engine.ScoreEligible(source, matcher.RecordFromTransaction(tx), params)
		if !ok || score < params.MinConfidence {
			continue
		}

		if best == nil || score > bestScore {
			best, bestScore = tx, score
			continue
		}

		if score == bestScore && earlierCandidate(tx, best) {
			best = tx
		}
	}

	return best, bestScore
}

// earlierCandidate orders tie-broken fuzzy candidates: earliest date
// first, then lowest id.
func earlierCandidate(a, b *models.InternalTransaction) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.ID < b.ID
}

// matchPercentage computes matched pairs over total items. Zero items
// on both sides is defined as fully matched.
func matchPercentage(matched, unmatchedBank, unmatchedApp int) float64 {
	total := matched + unmatchedBank + unmatchedApp
	if total == 0 {
		return 100.0
	}
	return float64(matched) / float64(total) * 100.0
}

// SortMatchesByConfidence orders matches highest confidence first,
// with stable ordering for equal scores.
func SortMatchesByConfidence(matches []MatchedPair) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}
