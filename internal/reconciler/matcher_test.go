package reconciler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
)

func mkTransaction(id, amount string, date time.Time, description string) *models.InternalTransaction {
	return &models.InternalTransaction{
		ID:          id,
		AccountID:   "acct-1",
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: description,
		Status:      models.StatusUnreconciled,
	}
}

func mkBankLine(reference, amount string, date time.Time, description string, rowIndex int) *models.BankTransactionLine {
	return &models.BankTransactionLine{
		Reference:   reference,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: description,
		RowIndex:    rowIndex,
	}
}

func TestMatchExactPass(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	transactions := []*models.InternalTransaction{
		mkTransaction("tx-1", "100.50", date, "COFFEE SHOP"),
		mkTransaction("tx-2", "250.00", date.AddDate(0, 0, 1), "RENT PAYMENT"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "100.50", date, "COFFEE SHOP", 0),
		mkBankLine("ref-2", "250.00", date.AddDate(0, 0, 1), "RENT", 1),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(result.Matches))
	}

	for _, match := range result.Matches {
		if match.Method != models.MatchExact {
			t.Errorf("Expected exact match for %s, got %s", match.BankLine.Reference, match.Method)
		}
		if match.Confidence != 1.0 {
			t.Errorf("Expected exact match confidence 1.0, got %v", match.Confidence)
		}
	}

	if result.OverallMatchPercentage != 100.0 {
		t.Errorf("Expected 100%% match rate, got %v", result.OverallMatchPercentage)
	}
}

func TestMatchExactPrecedesFuzzy(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// tx-exact matches the line's amount to the cent on the same day;
	// tx-close is within the fuzzy tolerances but not identical. The
	// exact pass must claim tx-exact before fuzzy scoring sees it.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-close", "100.01", date, "GROCERY MART"),
		mkTransaction("tx-exact", "100.00", date, "GROCERY MART"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "100.00", date, "GROCERY MART", 0),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if result.Matches[0].Transaction.ID != "tx-exact" {
		t.Errorf("Expected exact candidate tx-exact, got %s", result.Matches[0].Transaction.ID)
	}
	if result.Matches[0].Method != models.MatchExact {
		t.Errorf("Expected exact method, got %s", result.Matches[0].Method)
	}
}

func TestMatchAmbiguousExactFallsToFuzzy(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Two identical-amount same-day candidates: the exact pass must
	// not guess. The fuzzy pass picks by confidence, where the matching
	// description wins.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-1", "60.00", date, "UTILITY BILL"),
		mkTransaction("tx-2", "60.00", date, "STREAMING SERVICE"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "60.00", date, "STREAMING SERVICE", 0),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if result.Matches[0].Method != models.MatchFuzzy {
		t.Errorf("Expected fuzzy method for ambiguous candidates, got %s", result.Matches[0].Method)
	}
	if result.Matches[0].Transaction.ID != "tx-2" {
		t.Errorf("Expected description match tx-2, got %s", result.Matches[0].Transaction.ID)
	}
}

func TestMatchFuzzyTieBreak(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	// Same score for both candidates; the earlier date must win.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-later", "45.00", date.AddDate(0, 0, 2), "TAXI"),
		mkTransaction("tx-earlier", "45.00", date.AddDate(0, 0, -2), "TAXI"),
	}
	params := matcher.DefaultMatchParams()
	params.ExactDateToleranceDays = 0
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "45.00", date, "TAXI", 0),
	}

	result, err := m.Match(lines, transactions, "acct-1", params)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if result.Matches[0].Transaction.ID != "tx-earlier" {
		t.Errorf("Expected earliest-date tie break, got %s", result.Matches[0].Transaction.ID)
	}
}

func TestMatchFuzzyTieBreakByID(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	// Identical dates and scores; the lower id must win.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-b", "45.00", date.AddDate(0, 0, 1), "TAXI"),
		mkTransaction("tx-a", "45.00", date.AddDate(0, 0, 1), "TAXI"),
	}
	params := matcher.DefaultMatchParams()
	params.ExactDateToleranceDays = 0
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "45.00", date, "TAXI", 0),
	}

	result, err := m.Match(lines, transactions, "acct-1", params)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if result.Matches[0].Transaction.ID != "tx-a" {
		t.Errorf("Expected lowest-id tie break, got %s", result.Matches[0].Transaction.ID)
	}
}

func TestMatchClaimedTransactionNotReused(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// One transaction, two identical lines: exactly one line matches.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-1", "20.00", date, "LUNCH"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "20.00", date, "LUNCH", 0),
		mkBankLine("ref-2", "20.00", date, "LUNCH", 1),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if len(result.UnmatchedBank) != 1 {
		t.Fatalf("Expected 1 unmatched line, got %d", len(result.UnmatchedBank))
	}
}

func TestMatchDuplicateReferences(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Two lines sharing one provider reference: the unmatched one must
	// still surface in the result instead of disappearing behind the
	// matched line's claim.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-1", "20.00", date, "LUNCH"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("DUP-REF", "20.00", date, "LUNCH", 0),
		mkBankLine("DUP-REF", "20.00", date, "LUNCH", 1),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if len(result.UnmatchedBank) != 1 {
		t.Fatalf("Expected 1 unmatched line, got %d", len(result.UnmatchedBank))
	}
	if got := len(result.Matches) + len(result.UnmatchedBank); got != len(lines) {
		t.Errorf("Expected every line in exactly one bucket, got %d buckets for %d lines", got, len(lines))
	}
	if result.UnmatchedBank[0].RowIndex != 1 {
		t.Errorf("Expected the second line unmatched, got row %d", result.UnmatchedBank[0].RowIndex)
	}
}

func TestMatchOrderedByConfidence(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// One exact pair and two fuzzy pairs of different strength, listed
	// weakest first so input order cannot masquerade as ranking.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-weak", "75.00", date.AddDate(0, 0, 1), "WIRE OUT 1199"),
		mkTransaction("tx-strong", "50.00", date.AddDate(0, 0, 1), "COFFEE SHOP DOWNTOWN"),
		mkTransaction("tx-exact", "100.00", date, "ALPHA SUPPLY"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "75.00", date, "CHECK DEPOSIT 7782", 0),
		mkBankLine("ref-2", "50.00", date, "COFFEE SHOP DOWNTOWN", 1),
		mkBankLine("ref-3", "100.00", date, "ALPHA SUPPLY", 2),
	}

	result, err := m.Match(lines, transactions, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 3 {
		t.Fatalf("Expected 3 matches, got %d", len(result.Matches))
	}

	wantOrder := []string{"tx-exact", "tx-strong", "tx-weak"}
	for i, want := range wantOrder {
		if got := result.Matches[i].Transaction.ID; got != want {
			t.Errorf("Expected match %d to be %s, got %s", i, want, got)
		}
	}
	if result.Matches[0].Method != models.MatchExact {
		t.Errorf("Expected the exact match first, got %s", result.Matches[0].Method)
	}
	if result.Matches[1].Confidence <= result.Matches[2].Confidence {
		t.Errorf("Expected descending confidence, got %v then %v",
			result.Matches[1].Confidence, result.Matches[2].Confidence)
	}
}

func TestMatchBelowConfidenceFloor(t *testing.T) {
	m := NewMatcher()
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	params := matcher.DefaultMatchParams()
	params.MinConfidence = 0.9

	// Amount within relative band only and an unrelated description:
	// scores well below 0.9.
	transactions := []*models.InternalTransaction{
		mkTransaction("tx-1", "1030.00", date.AddDate(0, 0, 2), "WIRE OUT 9981"),
	}
	lines := []*models.BankTransactionLine{
		mkBankLine("ref-1", "1000.00", date, "CHECK DEPOSIT", 0),
	}

	result, err := m.Match(lines, transactions, "acct-1", params)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 0 {
		t.Fatalf("Expected no matches below the confidence floor, got %d", len(result.Matches))
	}
	if len(result.UnmatchedBank) != 1 || len(result.UnmatchedInternal) != 1 {
		t.Errorf("Expected both sides unmatched, got %d bank / %d internal",
			len(result.UnmatchedBank), len(result.UnmatchedInternal))
	}
	if result.OverallMatchPercentage != 0.0 {
		t.Errorf("Expected 0%% match rate, got %v", result.OverallMatchPercentage)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	m := NewMatcher()

	result, err := m.Match(nil, nil, "acct-1", matcher.DefaultMatchParams())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(result.Matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(result.Matches))
	}
	if result.OverallMatchPercentage != 100.0 {
		t.Errorf("Expected vacuous 100%% match rate, got %v", result.OverallMatchPercentage)
	}
}

func TestMatchInvalidParams(t *testing.T) {
	m := NewMatcher()

	params := matcher.DefaultMatchParams()
	params.MinConfidence = -0.5

	if _, err := m.Match(nil, nil, "acct-1", params); err == nil {
		t.Error("Expected invalid params to fail the run")
	}
}

func TestMatchPercentage(t *testing.T) {
	tests := []struct {
		matched       int
		unmatchedBank int
		unmatchedApp  int
		want          float64
	}{
		{0, 0, 0, 100.0},
		{3, 0, 0, 100.0},
		{1, 1, 0, 50.0},
		{1, 1, 2, 25.0},
		{0, 2, 2, 0.0},
	}

	for _, tt := range tests {
		got := matchPercentage(tt.matched, tt.unmatchedBank, tt.unmatchedApp)
		if got != tt.want {
			t.Errorf("matchPercentage(%d, %d, %d) = %v, want %v",
				tt.matched, tt.unmatchedBank, tt.unmatchedApp, got, tt.want)
		}
	}
}

func TestSortMatchesByConfidence(t *testing.T) {
	matches := []MatchedPair{
		{Confidence: 0.55},
		{Confidence: 0.95},
		{Confidence: 0.75},
	}

	SortMatchesByConfidence(matches)

	if matches[0].Confidence != 0.95 || matches[2].Confidence != 0.55 {
		t.Errorf("Expected descending confidence order, got %v, %v, %v",
			matches[0].Confidence, matches[1].Confidence, matches[2].Confidence)
	}
}
