// Package pipeline composes the verification components for one request:
// sanitize the input, record external calls, assemble evidence, gate
// candidate actions, and validate the response before it is released.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/evidence"
	"github.com/dativo-io/verity/internal/ledger"
	verityotel "github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/policy"
	"github.com/dativo-io/verity/internal/sanitize"
	"github.com/dativo-io/verity/internal/validator"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/pipeline")

// Verifier owns the process-wide ledger and the immutable components built
// around it. It is safe for concurrent use.
type Verifier struct {
	sanitizer *sanitize.Sanitizer
	ledger    *ledger.Ledger
	assembler *evidence.Assembler
	gate      *policy.Gate
	validator *validator.Validator
}

// New builds a Verifier from operator configuration.
func New(ctx context.Context, cfg *config.Config) (*Verifier, error) {
	ledgerOpts := []ledger.Option{ledger.WithCapacity(cfg.LedgerCapacity)}
	if cfg.SigningKey != "" {
		signer, err := ledger.NewSigner(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("creating ledger signer: %w", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithSigner(signer))
	}
	l := ledger.New(ledgerOpts...)

	san, err := sanitize.New(
		sanitize.WithPatternFile(cfg.PatternFile),
		sanitize.WithMaxFieldLength(cfg.MaxFieldLength),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sanitizer: %w", err)
	}

	val, err := validator.New(ctx,
		validator.WithLedger(l),
		validator.WithMinAnswerLength(cfg.MinAnswerLength),
		validator.WithLowConfidence(cfg.LowConfidence),
	)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	log.Debug().
		Int("ledger_capacity", l.Capacity()).
		Bool("ledger_sealed", cfg.SigningKey != "").
		Int("max_field_length", san.MaxFieldLength()).
		Msg("verifier_ready")

	return &Verifier{
		sanitizer: san,
		ledger:    l,
		assembler: evidence.NewAssembler(l),
		gate:      policy.NewGate(policy.WithLedger(l)),
		validator: val,
	}, nil
}

// Ledger returns the process-wide call ledger.
func (v *Verifier) Ledger() *ledger.Ledger { return v.ledger }

// Sanitizer returns the input sanitizer used by Begin.
func (v *Verifier) Sanitizer() *sanitize.Sanitizer { return v.sanitizer }

// Gate returns the action safety gate.
func (v *Verifier) Gate() *policy.Gate { return v.gate }

// Validator returns the output validator applied before a response is released.
func (v *Verifier) Validator() *validator.Validator { return v.validator }

// Assembler returns the evidence-chain assembler bound to Ledger.
func (v *Verifier) Assembler() *evidence.Assembler { return v.assembler }

// Decide is the executor's last check before acting on rec: the evidence
// is re-resolved against the ledger now, not when rec was created. A
// refusal also comes back as a policy_violation *Error.
func (v *Verifier) Decide(ctx context.Context, rec policy.Recommendation) (policy.ExecutionDecision, error) {
	ctx, span := tracer.Start(ctx, "pipeline.decide")
	defer span.End()

	d := policy.Decide(rec, v.assembler.Unresolved(ctx, rec))
	span.SetAttributes(
		attribute.String("pipeline.action", rec.Action),
		attribute.String("pipeline.decision", string(d.Decision)),
	)
	if d.Decision == policy.DecisionRefuse {
		log.Warn().
			Str("action", rec.Action).
			Str("target", rec.Target).
			Strs("reasons", d.Reasons).
			Func(verityotel.LogTraceFields(ctx)).
			Msg("execution_refused")
		return d, &Error{Category: CategoryPolicyViolation, Violations: d.Reasons}
	}
	return d, nil
}
