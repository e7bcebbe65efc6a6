package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/doctor"
)

var (
	doctorServerURL string
	doctorFormat    string
)

var errPreflightFailed = errors.New("preflight checks failed")

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (config, recognizers, validator, ledger seal)",
	Long: `Verifies configuration loads, operator patterns compile, response schemas
and action rules compile, the action policy table is consistent, and the
signing key seals ledger records. With --url, also checks a running server.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorServerURL, "url", "", "base URL of a running verity server to check")
	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "o", formatTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	ctx, span := tracer.Start(ctx, "doctor")
	defer span.End()

	report := doctor.Run(ctx, doctor.Options{ServerURL: doctorServerURL})
	if err := render(cmd.OutOrStdout(), doctorFormat, report, func(w io.Writer) error {
		printReport(w, report)
		return nil
	}); err != nil {
		return err
	}
	if report.Status == doctor.StatusFail {
		return errPreflightFailed
	}
	return nil
}

func printReport(w io.Writer, report *doctor.Report) {
	for _, c := range report.Checks {
		mark := "✓"
		switch c.Status {
		case doctor.StatusWarn:
			mark = "⚠"
		case doctor.StatusFail:
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", mark, c.Name, c.Message)
		if c.Fix != "" && c.Status != doctor.StatusPass {
			fmt.Fprintf(w, "    fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n", report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
}
