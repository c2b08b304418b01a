/*
accrue.go - One-shot monthly accrual subcommand

PURPOSE:
  Runs AccrueMonthly once for an org and prints the outcome. The
  period defaults to the current month in the configured timezone.

EXAMPLES:
  leavecredits accrue --org=acme
  leavecredits accrue --org=acme --period=2025-06

SEE ALSO:
  - generic/accrual.go: AccrueMonthly
*/
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/leave-credits/generic"
)

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Run the monthly accrual once for an org",
	Long: `Credit every active employee of an org for one month. Running it
again for the same month changes nothing and reports the period as
already credited.`,
	Args: cobra.NoArgs,
	RunE: runAccrue,
}

func init() {
	rootCmd.AddCommand(accrueCmd)

	accrueCmd.Flags().String("org", "", "Org to accrue for (required)")
	accrueCmd.Flags().String("period", "", "Month to credit as YYYY-MM (default: current month)")
	_ = accrueCmd.MarkFlagRequired("org")
}

func runAccrue(cmd *cobra.Command, args []string) error {
	org, _ := cmd.Flags().GetString("org")
	rawPeriod, _ := cmd.Flags().GetString("period")

	period, err := generic.ParsePeriod(rawPeriod)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if period.IsZero() {
		period = a.ledger.CurrentPeriod()
	}

	ctx, cancel := generic.AccrualContext(cmd.Context())
	defer cancel()

	result, err := a.ledger.AccrueMonthly(ctx, generic.OrgID(org), period)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.AlreadyCredited() {
		fmt.Fprintf(out, "%s already credited for %s\n", period, org)
		return nil
	}
	fmt.Fprintf(out, "credited %d accounts for %s in %s (%d employees, %d skipped)\n",
		result.AppliedCount, period, org, result.Employees, result.SkippedCount)
	return nil
}
