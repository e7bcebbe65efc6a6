package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/sanitize"
	"github.com/dativo-io/verity/internal/tree"
)

var (
	sanitizeText string
	sanitizeFile string
)

// errUnsafeInput makes the command exit non-zero for unsafe input after the
// result has been printed.
var errUnsafeInput = errors.New("input is unsafe")

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Sanitize a message or JSON context the way requests are sanitized",
	Long: `Strips secrets, redacts PII and flags injection indicators.

The input is --text, a JSON context file given with --file, or a message read
from stdin. The result is printed as JSON; the command fails when the input
is unsafe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "sanitize")
		defer span.End()

		if sanitizeText != "" && sanitizeFile != "" {
			return fmt.Errorf("use either --text or --file, not both")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s, err := sanitize.New(
			sanitize.WithPatternFile(cfg.PatternFile),
			sanitize.WithMaxFieldLength(cfg.MaxFieldLength),
		)
		if err != nil {
			return fmt.Errorf("creating sanitizer: %w", err)
		}

		var res *sanitize.Result
		switch {
		case sanitizeFile != "":
			data, err := os.ReadFile(sanitizeFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", sanitizeFile, err)
			}
			var v tree.Value
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("parsing %s: %w", sanitizeFile, err)
			}
			res = s.SanitizeContext(ctx, v)
		case sanitizeText != "":
			res = s.SanitizeMessage(ctx, sanitizeText)
		default:
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			res = s.SanitizeMessage(ctx, string(data))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.IsSafe {
			return fmt.Errorf("%w: %d violation(s)", errUnsafeInput, len(res.Errors))
		}
		return nil
	},
}

func init() {
	sanitizeCmd.Flags().StringVar(&sanitizeText, "text", "", "message text to sanitize")
	sanitizeCmd.Flags().StringVarP(&sanitizeFile, "file", "f", "", "JSON context file to sanitize")
	rootCmd.AddCommand(sanitizeCmd)
}
