package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/internal/store"
)

var (
	scanUser            string
	scanAmountTolerance string
	scanDateTolerance   int
	scanSameAccountOnly bool
	scanMinConfidence   float64
	scanIncludeReviewed bool
)

// scanDuplicatesCmd runs a one-off duplicate scan and prints the
// resulting groups as JSON.
var scanDuplicatesCmd = &cobra.Command{
	Use:   "scan-duplicates",
	Short: "Scan a user's transactions for duplicates",
	RunE:  runScanDuplicates,
}

func init() {
	scanDuplicatesCmd.Flags().StringVar(&scanUser, "user", "", "user to scan (required)")
	scanDuplicatesCmd.Flags().StringVar(&scanAmountTolerance, "amount-tolerance", "", "absolute amount tolerance")
	scanDuplicatesCmd.Flags().IntVar(&scanDateTolerance, "date-tolerance-days", -1, "date tolerance in days")
	scanDuplicatesCmd.Flags().BoolVar(&scanSameAccountOnly, "same-account-only", false, "only compare transactions within the same account")
	scanDuplicatesCmd.Flags().Float64Var(&scanMinConfidence, "min-confidence", 0, "minimum confidence for group membership")
	scanDuplicatesCmd.Flags().BoolVar(&scanIncludeReviewed, "include-reviewed", false, "include previously dismissed groups")
	scanDuplicatesCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(scanDuplicatesCmd)
}

func runScanDuplicates(cmd *cobra.Command, args []string) error {
	st, err := store.NewSQLiteStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	params := duplicates.DefaultParams()
	if scanAmountTolerance != "" {
		tolerance, err := decimal.NewFromString(scanAmountTolerance)
		if err != nil {
			return fmt.Errorf("invalid amount tolerance: %w", err)
		}
		params.AmountTolerance = tolerance
	}
	if scanDateTolerance >= 0 {
		params.DateToleranceDays = scanDateTolerance
	}
	params.SameAccountOnly = scanSameAccountOnly
	if scanMinConfidence > 0 {
		params.MinConfidence = scanMinConfidence
	}
	params.IncludeReviewed = scanIncludeReviewed

	detector := duplicates.NewDetector(st, st)
	result, err := detector.FindDuplicates(cmd.Context(), scanUser, params)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
