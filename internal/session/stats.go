package session

import (
	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/models"
)

// sessionStats aggregates a session's items for threshold checks and
// balance computation. Adjustments contribute to the calculated
// balance but are not counted as match candidates.
type sessionStats struct {
	matched       int
	unmatchedBank int
	unmatchedApp  int
	adjustments   int

	calculatedBalance decimal.Decimal
}

func computeStats(items []*models.ReconciliationItem) sessionStats {
	stats := sessionStats{calculatedBalance: decimal.Zero}

	for _, item := range items {
		switch item.Type {
		case models.ItemMatched:
			stats.matched++
			stats.calculatedBalance = stats.calculatedBalance.Add(item.Amount)
		case models.ItemUnmatchedBank:
			stats.unmatchedBank++
		case models.ItemUnmatchedApp:
			stats.unmatchedApp++
		case models.ItemAdjustment:
			stats.adjustments++
			stats.calculatedBalance = stats.calculatedBalance.Add(item.Amount)
		}
	}

	return stats
}

// totalItems counts the items participating in the match rate
func (s sessionStats) totalItems() int {
	return s.matched + s.unmatchedBank + s.unmatchedApp
}

// unmatchedRate is the fraction of items still unmatched. A session
// with no match candidates has nothing outstanding.
func (s sessionStats) unmatchedRate() float64 {
	total := s.totalItems()
	if total == 0 {
		return 0.0
	}
	return float64(s.unmatchedBank+s.unmatchedApp) / float64(total)
}

// matchedPercentage mirrors the matcher's convention: zero candidates
// is vacuously fully matched.
func (s sessionStats) matchedPercentage() float64 {
	total := s.totalItems()
	if total == 0 {
		return 100.0
	}
	return float64(s.matched) / float64(total) * 100.0
}
