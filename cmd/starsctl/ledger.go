package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"stars/internal/engine"
	"stars/internal/ledger"
	"stars/internal/report"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(weeklyCmd)

	historyCmd.Flags().String("from", "", "Only records at or after this time")
	historyCmd.Flags().String("to", "", "Only records before this time")
	reportCmd.Flags().String("from", "", "Window start (inclusive)")
	reportCmd.Flags().String("to", "", "Window end (exclusive)")
	weeklyCmd.Flags().String("start", "", "First day of the week")
	_ = weeklyCmd.MarkFlagRequired("start")
}

var balanceCmd = &cobra.Command{
	Use:   "balance CHILD_ID",
	Short: "Print a child's star balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(e *engine.Engine) error {
			balance, err := e.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"child_id": args[0],
				"balance":  balance,
			})
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history CHILD_ID",
	Short: "List a child's ledger records, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r ledger.Range
		var err error
		if r.From, err = timeFlag(cmd, "from"); err != nil {
			return err
		}
		if r.To, err = timeFlag(cmd, "to"); err != nil {
			return err
		}
		if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
			return errors.New("--to is before --from")
		}

		return withEngine(cmd.Context(), func(e *engine.Engine) error {
			history, err := e.Ledger.History(cmd.Context(), args[0], r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), history)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report CHILD_ID",
	Short: "Summarise a child's stars over a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var w report.Window
		var err error
		if w.From, err = timeFlag(cmd, "from"); err != nil {
			return err
		}
		if w.To, err = timeFlag(cmd, "to"); err != nil {
			return err
		}

		return withEngine(cmd.Context(), func(e *engine.Engine) error {
			rep, err := e.Reports.Summarize(cmd.Context(), args[0], w)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		})
	},
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly CHILD_ID",
	Short: "Summarise the seven days from --start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := timeFlag(cmd, "start")
		if err != nil {
			return err
		}

		return withEngine(cmd.Context(), func(e *engine.Engine) error {
			rep, err := e.Reports.Weekly(cmd.Context(), args[0], start)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		})
	},
}

func timeFlag(cmd *cobra.Command, name string) (t time.Time, err error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return t, err
	}
	return parseTime(name, value)
}
