package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/policy"
)

var policyListFormat string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the action safety policy",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every allow-listed action and its policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "policy.list")
		defer span.End()

		policies := policy.Policies()
		return render(cmd.OutOrStdout(), policyListFormat, policies, func(w io.Writer) error {
			return printPolicies(w, policies)
		})
	},
}

func printPolicies(w io.Writer, policies []policy.ActionPolicy) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tIMPACT\tBLAST RADIUS\tAPPROVAL\tMIN EVIDENCE\tMIN CONFIDENCE\tAUTO")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			p.Kind, p.ImpactLevel, p.BlastRadius, yesNo(p.RequiresApproval),
			p.MinEvidenceCount, p.MinConfidence, yesNo(p.AutoExecutable))
	}
	return tw.Flush()
}

func init() {
	policyListCmd.Flags().StringVarP(&policyListFormat, "format", "o", formatTable, "output format (table, json, yaml)")
	policyCmd.AddCommand(policyListCmd)
	rootCmd.AddCommand(policyCmd)
}
