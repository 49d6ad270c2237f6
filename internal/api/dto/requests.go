package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/internal/matcher"
	"github.com/reconcilerd/reconcilerd/internal/models"
	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

// dateLayout is the wire format for statement dates
const dateLayout = "2006-01-02"

// StartReconciliationRequest is the body of POST /api/reconciliations
type StartReconciliationRequest struct {
	AccountID           string `json:"account_id"`
	StatementEndDate    string `json:"statement_end_date"`
	StatementEndBalance string `json:"statement_end_balance"`
}

// EndDate parses the statement end date
func (r *StartReconciliationRequest) EndDate() (time.Time, error) {
	date, err := time.Parse(dateLayout, r.StatementEndDate)
	if err != nil {
		return time.Time{}, errors.Validation(errors.CodeInvalidValue, "statement_end_date",
			"statement end date must be formatted as YYYY-MM-DD")
	}
	return date, nil
}

// EndBalance parses the statement end balance
func (r *StartReconciliationRequest) EndBalance() (decimal.Decimal, error) {
	balance, err := decimal.NewFromString(r.StatementEndBalance)
	if err != nil {
		return decimal.Zero, errors.Validation(errors.CodeInvalidValue, "statement_end_balance",
			"statement end balance must be a decimal number")
	}
	return balance, nil
}

// BankLineRequest is one statement line in an import request
type BankLineRequest struct {
	Reference      string `json:"reference,omitempty"`
	Amount         string `json:"amount"`
	Date           string `json:"date"`
	Description    string `json:"description,omitempty"`
	RunningBalance string `json:"running_balance,omitempty"`
}

// MatchParamsRequest carries optional matching overrides. Absent
// fields keep their defaults.
type MatchParamsRequest struct {
	AmountTolerance        *string  `json:"amount_tolerance,omitempty"`
	DateToleranceDays      *int     `json:"date_tolerance_days,omitempty"`
	MatchDescription       *bool    `json:"match_description,omitempty"`
	MatchDateRange         *bool    `json:"match_date_range,omitempty"`
	MinConfidence          *float64 `json:"min_confidence,omitempty"`
	ExactDateToleranceDays *int     `json:"exact_date_tolerance_days,omitempty"`
}

// ImportStatementRequest is the body of POST /api/reconciliations/{id}/import
type ImportStatementRequest struct {
	Lines  []BankLineRequest   `json:"lines"`
	Params *MatchParamsRequest `json:"params,omitempty"`
}

// BankLines converts the request lines into model bank lines
func (r *ImportStatementRequest) BankLines() ([]*models.BankTransactionLine, error) {
	lines := make([]*models.BankTransactionLine, 0, len(r.Lines))
	for i, raw := range r.Lines {
		amount, err := decimal.NewFromString(raw.Amount)
		if err != nil {
			return nil, errors.Validation(errors.CodeInvalidValue, "lines",
				"line amount must be a decimal number").
				WithContext("row_index", i)
		}

		date, err := time.Parse(dateLayout, raw.Date)
		if err != nil {
			return nil, errors.Validation(errors.CodeInvalidValue, "lines",
				"line date must be formatted as YYYY-MM-DD").
				WithContext("row_index", i)
		}

		line := &models.BankTransactionLine{
			Reference:   raw.Reference,
			Amount:      amount,
			Date:        date,
			Description: raw.Description,
			RowIndex:    i,
		}

		if raw.RunningBalance != "" {
			balance, err := decimal.NewFromString(raw.RunningBalance)
			if err != nil {
				return nil, errors.Validation(errors.CodeInvalidValue, "lines",
					"line running balance must be a decimal number").
					WithContext("row_index", i)
			}
			line.RunningBalance = &balance
		}

		lines = append(lines, line)
	}
	return lines, nil
}

// MatchParams merges the request overrides over the defaults
func (r *ImportStatementRequest) MatchParams() (matcher.MatchParams, error) {
	params := matcher.DefaultMatchParams()
	if r.Params == nil {
		return params, nil
	}

	if r.Params.AmountTolerance != nil {
		tolerance, err := decimal.NewFromString(*r.Params.AmountTolerance)
		if err != nil {
			return params, errors.Validation(errors.CodeInvalidValue, "params.amount_tolerance",
				"amount tolerance must be a decimal number")
		}
		params.AmountTolerance = tolerance
	}
	if r.Params.DateToleranceDays != nil {
		params.DateToleranceDays = *r.Params.DateToleranceDays
	}
	if r.Params.MatchDescription != nil {
		params.MatchDescription = *r.Params.MatchDescription
	}
	if r.Params.MatchDateRange != nil {
		params.MatchDateRange = *r.Params.MatchDateRange
	}
	if r.Params.MinConfidence != nil {
		params.MinConfidence = *r.Params.MinConfidence
	}
	if r.Params.ExactDateToleranceDays != nil {
		params.ExactDateToleranceDays = *r.Params.ExactDateToleranceDays
	}
	return params, nil
}

// ManualMatchRequest is the body of POST /api/reconciliations/{id}/match
type ManualMatchRequest struct {
	ItemID        string `json:"item_id"`
	TransactionID string `json:"transaction_id"`
}

// UnmatchRequest is the body of POST /api/reconciliations/{id}/unmatch
type UnmatchRequest struct {
	ItemID string `json:"item_id"`
}

// AdjustmentRequest is the body of POST /api/reconciliations/{id}/adjustments
type AdjustmentRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// ParsedAmount parses the adjustment amount
func (r *AdjustmentRequest) ParsedAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, errors.Validation(errors.CodeInvalidValue, "amount",
			"adjustment amount must be a decimal number")
	}
	return amount, nil
}

// FinalizeRequest is the body of POST /api/reconciliations/{id}/finalize
type FinalizeRequest struct {
	Force bool `json:"force"`
}

// DuplicateScanRequest carries optional duplicate-detection overrides
// supplied as query parameters on GET /api/duplicates.
type DuplicateScanRequest struct {
	AmountTolerance   string
	DateToleranceDays *int
	SameAccountOnly   *bool
	MinConfidence     *float64
	IncludeReviewed   *bool
}

// Params merges the overrides over the detection defaults
func (r *DuplicateScanRequest) Params() (duplicates.Params, error) {
	params := duplicates.DefaultParams()
	if r.AmountTolerance != "" {
		tolerance, err := decimal.NewFromString(r.AmountTolerance)
		if err != nil {
			return params, errors.Validation(errors.CodeInvalidValue, "amount_tolerance",
				"amount tolerance must be a decimal number")
		}
		params.AmountTolerance = tolerance
	}
	if r.DateToleranceDays != nil {
		params.DateToleranceDays = *r.DateToleranceDays
	}
	if r.SameAccountOnly != nil {
		params.SameAccountOnly = *r.SameAccountOnly
	}
	if r.MinConfidence != nil {
		params.MinConfidence = *r.MinConfidence
	}
	if r.IncludeReviewed != nil {
		params.IncludeReviewed = *r.IncludeReviewed
	}
	return params, nil
}

// DismissRequest is the body of POST /api/duplicates/dismiss
type DismissRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}
