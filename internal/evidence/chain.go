// Package evidence assembles the chain that traces an answer back to its
// triggering event, finding and recorded external calls.
package evidence

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/verity/internal/ledger"
	verityotel "github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/policy"
	"github.com/dativo-io/verity/internal/tree"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/evidence")

// Context fields read by Build and the link names reported when they are absent.
const (
	FieldEventID       = "event_id"
	FieldFindingID     = "finding_id"
	FieldCorrelationID = "correlation_id"
	LinkLedgerCalls    = "ledger_calls"
)

// Chain is the request-scoped evidence chain. It is complete when the event
// id, the finding id and at least one recorded call are all present.
type Chain struct {
	RequestID     string   `json:"request_id"`
	EventID       string   `json:"event_id"`
	FindingID     string   `json:"finding_id"`
	CorrelationID string   `json:"correlation_id"`
	CallIDs       []string `json:"call_ids"`
	IsComplete    bool     `json:"is_complete"`
	MissingLinks  []string `json:"missing_links"`
}

// Assembler builds and re-validates chains against one ledger.
type Assembler struct {
	ledger *ledger.Ledger
}

// NewAssembler creates an assembler over l.
func NewAssembler(l *ledger.Ledger) *Assembler {
	return &Assembler{ledger: l}
}

// Build reads the correlation ids from the sanitized context and the call
// ids recorded for requestID.
func (a *Assembler) Build(ctx context.Context, sanitized tree.Value, requestID string) Chain {
	_, span := tracer.Start(ctx, "evidence.build")
	defer span.End()

	c := Chain{RequestID: requestID, CallIDs: a.ledger.CallIDsForRequest(requestID), MissingLinks: []string{}}
	c.EventID, _ = sanitized.GetString(FieldEventID)
	c.FindingID, _ = sanitized.GetString(FieldFindingID)
	c.CorrelationID, _ = sanitized.GetString(FieldCorrelationID)

	if c.EventID == "" {
		c.MissingLinks = append(c.MissingLinks, FieldEventID)
	}
	if c.FindingID == "" {
		c.MissingLinks = append(c.MissingLinks, FieldFindingID)
	}
	if len(c.CallIDs) == 0 {
		c.MissingLinks = append(c.MissingLinks, LinkLedgerCalls)
	}
	c.IsComplete = len(c.MissingLinks) == 0

	span.SetAttributes(
		attribute.String("evidence.request_id", requestID),
		attribute.Int("evidence.call_count", len(c.CallIDs)),
		attribute.Bool("evidence.complete", c.IsComplete),
	)
	return c
}

// Validate re-verifies that every call id in c still resolves and belongs
// to the chain's request. A chain can outlive the ledger state it was built
// from once the ring evicts its records.
func (a *Assembler) Validate(ctx context.Context, c Chain) (bool, []string) {
	_, span := tracer.Start(ctx, "evidence.validate")
	defer span.End()

	errs := []string{}
	for _, id := range c.CallIDs {
		rec, ok := a.ledger.Get(id)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("call_id %s no longer resolves in the ledger", id))
		case rec.RequestID != c.RequestID:
			errs = append(errs, fmt.Sprintf("call_id %s belongs to request %s, not %s", id, rec.RequestID, c.RequestID))
		}
	}
	span.SetAttributes(attribute.Int("evidence.errors", len(errs)))
	return len(errs) == 0, errs
}

// Foreign returns a violation for every id in ids that resolves but was
// recorded for another request or tenant. Ids that do not resolve are left
// to citation verification.
func (a *Assembler) Foreign(ctx context.Context, requestID, tenantID string, ids []string) []string {
	_, span := tracer.Start(ctx, "evidence.foreign")
	defer span.End()

	errs := []string{}
	for _, id := range policy.DistinctCallIDs(ids) {
		rec, ok := a.ledger.Get(id)
		switch {
		case !ok:
		case rec.RequestID != requestID:
			errs = append(errs, fmt.Sprintf("call_id %s belongs to request %s, not %s", id, rec.RequestID, requestID))
		case rec.TenantID != tenantID:
			errs = append(errs, fmt.Sprintf("call_id %s belongs to another tenant", id))
		}
	}
	span.SetAttributes(attribute.Int("evidence.foreign", len(errs)))
	return errs
}

// Enrich returns copies of actions with the chain attached as
// EvidenceRequired. The inputs are not modified.
func (a *Assembler) Enrich(actions []policy.Recommendation, c Chain) []policy.Recommendation {
	req := Required(c)
	out := make([]policy.Recommendation, len(actions))
	for i, rec := range actions {
		out[i] = rec.WithEvidence(req)
	}
	return out
}

// Required converts c into the executor-facing EvidenceRequired.
func Required(c Chain) policy.EvidenceRequired {
	return policy.EvidenceRequired{
		EventID:       c.EventID,
		FindingID:     c.FindingID,
		CorrelationID: c.CorrelationID,
		CallIDs:       slices.Clone(c.CallIDs),
	}
}

// Unresolved returns the evidence-required call ids of rec that no longer
// resolve, together with its own evidence call ids that do not.
func (a *Assembler) Unresolved(ctx context.Context, rec policy.Recommendation) []string {
	_, span := tracer.Start(ctx, "evidence.unresolved")
	defer span.End()

	var ids []string
	if rec.EvidenceRequired != nil {
		ids = append(ids, rec.EvidenceRequired.CallIDs...)
	}
	ids = append(ids, rec.EvidenceCallIDs...)

	var missing []string
	for _, id := range policy.DistinctCallIDs(ids) {
		if !a.ledger.Has(id) {
			missing = append(missing, id)
		}
	}
	span.SetAttributes(attribute.Int("evidence.unresolved", len(missing)))
	return missing
}
