package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/validator"
)

var (
	validateFile      string
	validateRequestID string
	validateFormat    string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an assembled response against the output contract",
	Long: `Checks a chat or advise response for required fields, types, ranges,
the request_id echo and, for advise, the action safety policy.

Offline validation has no call ledger, so citations are checked for shape
only.`,
}

var validateChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Validate a chat response",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd, "chat")
	},
}

var validateAdviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Validate an advise response",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd, "advise")
	},
}

func runValidate(cmd *cobra.Command, kind string) error {
	ctx, span := tracer.Start(cmd.Context(), "validate."+kind)
	defer span.End()

	if validateRequestID == "" {
		return fmt.Errorf("--request-id is required")
	}
	data, err := readInput(cmd, validateFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	v, err := validator.New(ctx,
		validator.WithMinAnswerLength(cfg.MinAnswerLength),
		validator.WithLowConfidence(cfg.LowConfidence),
	)
	if err != nil {
		return fmt.Errorf("creating validator: %w", err)
	}

	validate := v.ValidateChatJSON
	if kind == "advise" {
		validate = v.ValidateAdviseJSON
	}
	res := validate(ctx, data, validateRequestID)

	err = render(cmd.OutOrStdout(), validateFormat, res, func(w io.Writer) error {
		printValidation(w, kind, res)
		return nil
	})
	if err != nil {
		return err
	}
	if !res.IsValid {
		log.Debug().Str("category", string(res.Category)).Int("errors", len(res.Errors)).Msg("validation_failed")
		return fmt.Errorf("%s response failed validation (%s)", kind, res.Category)
	}
	return nil
}

func printValidation(w io.Writer, kind string, res *validator.Result) {
	if res.IsValid {
		fmt.Fprintf(w, "✓ %s response valid\n", kind)
	} else {
		fmt.Fprintf(w, "✗ %s response blocked: %s\n", kind, res.Category)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error:   %s\n", e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func init() {
	validateCmd.PersistentFlags().StringVarP(&validateFile, "file", "f", "", "response JSON file (default: stdin)")
	validateCmd.PersistentFlags().StringVar(&validateRequestID, "request-id", "", "request_id the response must echo")
	validateCmd.PersistentFlags().StringVarP(&validateFormat, "format", "o", formatTable, "output format (table, json, yaml)")
	validateCmd.AddCommand(validateChatCmd, validateAdviseCmd)
	rootCmd.AddCommand(validateCmd)
}
