package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Candidate is an action proposed by the reasoning engine, before validation.
type Candidate struct {
	Action          string   `json:"action"`
	Target          string   `json:"target"`
	Reason          string   `json:"reason"`
	RiskReduction   float64  `json:"risk_reduction"`
	Confidence      float64  `json:"confidence"`
	Priority        string   `json:"priority,omitempty"`
	EvidenceCallIDs []string `json:"evidence_call_ids"`
}

// EvidenceRequired is the evidence an executor must re-verify before acting.
type EvidenceRequired struct {
	EventID       string   `json:"event_id"`
	FindingID     string   `json:"finding_id"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	CallIDs       []string `json:"call_ids"`
}

// Recommendation is a validated candidate. Policy-derived fields come from
// the table, never from the candidate. Treat it as a value: enrichment
// returns copies.
type Recommendation struct {
	Action           string            `json:"action"`
	Target           string            `json:"target"`
	Reason           string            `json:"reason"`
	RiskReduction    float64           `json:"risk_reduction"`
	Confidence       float64           `json:"confidence"`
	Priority         Priority          `json:"priority"`
	ApprovalRequired bool              `json:"approval_required"`
	BlastRadius      BlastRadius       `json:"blast_radius"`
	ImpactLevel      ImpactLevel       `json:"impact_level"`
	EvidenceCount    int               `json:"evidence_count"`
	EvidenceCallIDs  []string          `json:"evidence_call_ids"`
	IsValid          bool              `json:"is_valid"`
	ValidationErrors []string          `json:"validation_errors"`
	EvidenceRequired *EvidenceRequired `json:"evidence_required,omitempty"`
}

// CreateRecommendation validates c and resolves approval, blast radius and
// impact from policy. An unlisted kind still yields a recommendation, marked
// invalid and filled with the most restrictive values.
func (g *Gate) CreateRecommendation(ctx context.Context, c Candidate) Recommendation {
	ctx, span := tracer.Start(ctx, "policy.gate.create_recommendation")
	defer span.End()

	verdict := g.Validate(ctx, c.Action, c.Target, c.Confidence, c.EvidenceCallIDs)
	errs := append([]string{}, verdict.Errors...)

	pol, ok := Lookup(c.Action)
	if !ok {
		pol = restrictive
	}

	if !InUnitRange(c.RiskReduction) {
		errs = append(errs, fmt.Sprintf("risk_reduction %v out of range [0.0, 1.0]", c.RiskReduction))
	}

	priority := Priority(c.Priority)
	if c.Priority == "" {
		priority = PriorityForImpact(pol.ImpactLevel)
	} else if !ValidPriority(c.Priority) {
		errs = append(errs, fmt.Sprintf("priority %q must be one of %s", c.Priority, joinPriorities()))
	}

	ids := DistinctCallIDs(c.EvidenceCallIDs)
	return Recommendation{
		Action:           c.Action,
		Target:           c.Target,
		Reason:           c.Reason,
		RiskReduction:    c.RiskReduction,
		Confidence:       c.Confidence,
		Priority:         priority,
		ApprovalRequired: pol.RequiresApproval,
		BlastRadius:      pol.BlastRadius,
		ImpactLevel:      pol.ImpactLevel,
		EvidenceCount:    len(ids),
		EvidenceCallIDs:  ids,
		IsValid:          len(errs) == 0,
		ValidationErrors: errs,
	}
}

// WithEvidence returns a copy of r carrying req.
func (r Recommendation) WithEvidence(req EvidenceRequired) Recommendation {
	req.CallIDs = slices.Clone(req.CallIDs)
	r.EvidenceCallIDs = slices.Clone(r.EvidenceCallIDs)
	r.ValidationErrors = slices.Clone(r.ValidationErrors)
	r.EvidenceRequired = &req
	return r
}

func joinPriorities() string {
	names := make([]string, len(Priorities))
	for i, p := range Priorities {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
