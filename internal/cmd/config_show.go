package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/config"
)

var configShowFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect verity configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), configShowFormat, cfg, func(w io.Writer) error {
			printConfig(w, cfg)
			return nil
		})
	},
}

func printConfig(w io.Writer, cfg *config.Config) {
	signing := "not set (ledger records are not sealed)"
	if cfg.SigningKey != "" {
		signing = fmt.Sprintf("set (%d chars)", len(cfg.SigningKey))
	}
	patterns := cfg.PatternFile
	if patterns == "" {
		patterns = "(embedded defaults only)"
	}
	fmt.Fprintf(w, "Ledger capacity:     %d\n", cfg.LedgerCapacity)
	fmt.Fprintf(w, "Signing key:         %s\n", signing)
	fmt.Fprintf(w, "Max field length:    %d\n", cfg.MaxFieldLength)
	fmt.Fprintf(w, "Pattern file:        %s\n", patterns)
	fmt.Fprintf(w, "Min answer length:   %d\n", cfg.MinAnswerLength)
	fmt.Fprintf(w, "Low confidence:      %.2f\n", cfg.LowConfidence)
	fmt.Fprintf(w, "Rate limit (global): %d rpm\n", cfg.RateLimitGlobalRPM)
	fmt.Fprintf(w, "Rate limit (caller): %d rpm\n", cfg.RateLimitCallerRPM)
	fmt.Fprintf(w, "API keys:            %d configured\n", len(cfg.APIKeys))
	fmt.Fprintf(w, "Listen address:      %s\n", cfg.ListenAddr)
	fmt.Fprintf(w, "Trusted proxies:     %d\n", len(cfg.TrustedProxyCIDRs))
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowFormat, "format", "o", formatTable, "output format (table, json, yaml)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
