package policy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	verityotel "github.com/dativo-io/verity/internal/otel"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/policy")

// UnknownTarget is the sentinel the reasoning engine emits when it could not
// name a target.
const UnknownTarget = "unknown"

// CallResolver reports whether a call id is valid evidence.
// *ledger.Ledger satisfies it.
type CallResolver interface {
	Has(callID string) bool
}

// Verdict is the outcome of validating one candidate action. Errors are
// ordered and complete: every violated check contributes one entry.
type Verdict struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLedger makes the gate require every evidence call id to resolve.
func WithLedger(r CallResolver) GateOption {
	return func(g *Gate) { g.calls = r }
}

// Gate validates candidate actions against the static policy table. It holds
// no mutable state and is safe for concurrent use.
type Gate struct {
	calls CallResolver
}

// NewGate creates a gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate runs every check without short-circuiting. An unlisted kind
// yields a single error and skips the policy checks.
func (g *Gate) Validate(ctx context.Context, actionKind, target string, confidence float64, evidenceCallIDs []string) Verdict {
	_, span := tracer.Start(ctx, "policy.gate.validate")
	defer span.End()

	v := g.validate(actionKind, target, confidence, evidenceCallIDs)

	span.SetAttributes(
		attribute.String("action.kind", actionKind),
		attribute.Bool("action.valid", v.IsValid),
		attribute.Int("action.errors", len(v.Errors)),
	)
	recordVerdict(ctx, actionKind, v.IsValid)
	if !v.IsValid {
		log.Debug().
			Str("action", actionKind).
			Strs("errors", v.Errors).
			Func(verityotel.LogTraceFields(ctx)).
			Msg("action_rejected")
	}
	return v
}

func (g *Gate) validate(actionKind, target string, confidence float64, evidenceCallIDs []string) Verdict {
	pol, ok := Lookup(actionKind)
	if !ok {
		return Verdict{Errors: []string{fmt.Sprintf("action %q is not in the allow-list", actionKind)}}
	}

	var errs []string
	ids := DistinctCallIDs(evidenceCallIDs)
	if len(ids) < pol.MinEvidenceCount {
		errs = append(errs, fmt.Sprintf("insufficient evidence for %s: %d < %d", actionKind, len(ids), pol.MinEvidenceCount))
	}

	if !InUnitRange(confidence) {
		errs = append(errs, fmt.Sprintf("confidence %v out of range [0.0, 1.0]", confidence))
	} else if confidence < pol.MinConfidence {
		errs = append(errs, fmt.Sprintf("confidence below threshold for %s: %.2f < %.2f", actionKind, confidence, pol.MinConfidence))
	}

	switch t := strings.TrimSpace(target); {
	case t == "":
		errs = append(errs, "target must not be empty")
	case strings.EqualFold(t, UnknownTarget):
		errs = append(errs, fmt.Sprintf("target must not be %q", UnknownTarget))
	}

	if g.calls != nil {
		for _, id := range ids {
			if !g.calls.Has(id) {
				errs = append(errs, fmt.Sprintf("evidence call_id %s does not resolve in the ledger", id))
			}
		}
	}

	if errs == nil {
		errs = []string{}
	}
	return Verdict{IsValid: len(errs) == 0, Errors: errs}
}

// DistinctCallIDs drops empty and repeated ids, keeping first-seen order.
func DistinctCallIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// InUnitRange reports whether x is a real number within [0, 1]. NaN is not.
func InUnitRange(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}
