package pipeline

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dativo-io/verity/internal/evidence"
	"github.com/dativo-io/verity/internal/ledger"
	verityotel "github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/policy"
	"github.com/dativo-io/verity/internal/requestctx"
	"github.com/dativo-io/verity/internal/tree"
	"github.com/dativo-io/verity/internal/validator"
)

// RequestInput is the untrusted caller input for one request. An empty
// RequestID is replaced with a fresh uuid.
type RequestInput struct {
	RequestID string     `json:"request_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	TenantID  string     `json:"tenant_id,omitempty"`
	Message   string     `json:"message"`
	Context   tree.Value `json:"context"`
}

// Request is a sanitized request. Only its Message and Context may be shown
// to the reasoning engine.
type Request struct {
	ID             string
	UserID         string
	TenantID       string
	Message        string
	Context        tree.Value
	RedactedFields []string

	v *Verifier
}

// Begin sanitizes in. Injection indicators or oversized fields anywhere in
// the message or context block the request with an input_safety *Error.
func (v *Verifier) Begin(ctx context.Context, in RequestInput) (*Request, error) {
	id := in.RequestID
	if id == "" {
		id = uuid.New().String()
	}
	ctx = requestctx.SetRequestID(ctx, id)
	ctx, span := tracer.Start(ctx, "pipeline.begin")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline.request_id", id))

	msg := v.sanitizer.SanitizeMessage(ctx, in.Message)
	cx := v.sanitizer.SanitizeContext(ctx, in.Context)
	if !msg.IsSafe || !cx.IsSafe {
		violations := append(append([]string{}, msg.Errors...), cx.Errors...)
		span.SetStatus(codes.Error, string(CategoryInputSafety))
		return nil, &Error{Category: CategoryInputSafety, Violations: violations}
	}

	message, _ := msg.Sanitized.Str()
	return &Request{
		ID:             id,
		UserID:         in.UserID,
		TenantID:       in.TenantID,
		Message:        message,
		Context:        cx.Sanitized,
		RedactedFields: mergeFields(msg.RedactedFields, cx.RedactedFields),
		v:              v,
	}, nil
}

// RecordCall records one external call under this request. Request, user
// and tenant ids on c are overwritten.
func (r *Request) RecordCall(ctx context.Context, c ledger.Call) string {
	c.RequestID = r.ID
	c.UserID = r.UserID
	c.TenantID = r.TenantID
	return r.v.ledger.Record(requestctx.SetRequestID(ctx, r.ID), c)
}

// Chain assembles the evidence chain from the sanitized context and the
// calls recorded so far.
func (r *Request) Chain(ctx context.Context) evidence.Chain {
	return r.v.assembler.Build(ctx, r.Context, r.ID)
}

// Citation is a claim that a statement rests on a recorded call.
type Citation struct {
	CallID   string `json:"call_id"`
	Endpoint string `json:"endpoint"`
}

// Source is an external service consulted for the request.
type Source struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
}

// Dependency is one recorded call the response depends on.
type Dependency struct {
	Endpoint string        `json:"endpoint"`
	CallID   string        `json:"call_id"`
	Status   ledger.Status `json:"status"`
}

// ChatDraft is the reasoning engine's answer before verification.
type ChatDraft struct {
	Answer     string     `json:"answer"`
	Confidence float64    `json:"confidence"`
	Citations  []Citation `json:"citations"`
}

// AdviseDraft is the reasoning engine's advice before verification.
type AdviseDraft struct {
	Summary    string             `json:"summary"`
	Confidence float64            `json:"confidence"`
	Candidates []policy.Candidate `json:"candidates"`
	Citations  []Citation         `json:"citations"`
}

// ChatResponse is a verified chat answer. Warnings are returned to the
// caller alongside it but are not part of the payload.
type ChatResponse struct {
	RequestID        string         `json:"request_id"`
	Answer           string         `json:"answer"`
	Confidence       float64        `json:"confidence"`
	Citations        []Citation     `json:"citations"`
	Sources          []Source       `json:"sources"`
	DataDependencies []Dependency   `json:"data_dependencies"`
	EvidenceChain    evidence.Chain `json:"evidence_chain"`
	Warnings         []string       `json:"-"`
}

// AdviseResponse is verified advice. Candidates that failed the gate are
// kept, with their errors, in RejectedActions.
type AdviseResponse struct {
	RequestID          string                  `json:"request_id"`
	Summary            string                  `json:"summary"`
	Confidence         float64                 `json:"confidence"`
	RecommendedActions []policy.Recommendation `json:"recommended_actions"`
	RejectedActions    []policy.Recommendation `json:"rejected_actions,omitempty"`
	Citations          []Citation              `json:"citations"`
	Sources            []Source                `json:"sources"`
	DataDependencies   []Dependency            `json:"data_dependencies"`
	EvidenceChain      evidence.Chain          `json:"evidence_chain"`
	Warnings           []string                `json:"-"`
}

// Chat assembles and validates a chat response. On failure the response is
// discarded and only the *Error is returned.
func (r *Request) Chat(ctx context.Context, d ChatDraft) (*ChatResponse, error) {
	ctx = requestctx.SetRequestID(ctx, r.ID)
	ctx, span := tracer.Start(ctx, "pipeline.chat")
	defer span.End()

	sources, deps := r.consulted()
	resp := &ChatResponse{
		RequestID:        r.ID,
		Answer:           d.Answer,
		Confidence:       d.Confidence,
		Citations:        citations(d.Citations),
		Sources:          sources,
		DataDependencies: deps,
		EvidenceChain:    r.Chain(ctx),
	}
	if err := r.checkProvenance(ctx, "chat", resp.EvidenceChain, citationIDs(resp.Citations)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	warnings, err := r.release(ctx, "chat", resp, r.v.validator.ValidateChatJSON)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp.Warnings = warnings
	return resp, nil
}

// Advise gates every candidate, attaches the evidence chain, and validates
// the assembled response. On failure the response is discarded and only the
// *Error is returned.
func (r *Request) Advise(ctx context.Context, d AdviseDraft) (*AdviseResponse, error) {
	ctx = requestctx.SetRequestID(ctx, r.ID)
	ctx, span := tracer.Start(ctx, "pipeline.advise")
	defer span.End()

	chain := r.Chain(ctx)
	recommended := []policy.Recommendation{}
	var rejected []policy.Recommendation
	for _, rec := range r.recommend(ctx, d.Candidates, chain) {
		if rec.IsValid {
			recommended = append(recommended, rec)
		} else {
			rejected = append(rejected, rec)
		}
	}
	span.SetAttributes(
		attribute.Int("pipeline.recommended", len(recommended)),
		attribute.Int("pipeline.rejected", len(rejected)),
	)

	sources, deps := r.consulted()
	resp := &AdviseResponse{
		RequestID:          r.ID,
		Summary:            d.Summary,
		Confidence:         d.Confidence,
		RecommendedActions: recommended,
		RejectedActions:    rejected,
		Citations:          citations(d.Citations),
		Sources:            sources,
		DataDependencies:   deps,
		EvidenceChain:      chain,
	}
	cited := citationIDs(resp.Citations)
	for _, rec := range append(append([]policy.Recommendation{}, recommended...), rejected...) {
		cited = append(cited, rec.EvidenceCallIDs...)
	}
	if err := r.checkProvenance(ctx, "advise", chain, cited); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	warnings, err := r.release(ctx, "advise", resp, r.v.validator.ValidateAdviseJSON)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp.Warnings = warnings
	return resp, nil
}

// Recommend gates candidates and attaches the current evidence chain to
// each result, valid or not.
func (r *Request) Recommend(ctx context.Context, candidates []policy.Candidate) []policy.Recommendation {
	return r.recommend(ctx, candidates, r.Chain(ctx))
}

func (r *Request) recommend(ctx context.Context, candidates []policy.Candidate, chain evidence.Chain) []policy.Recommendation {
	recs := make([]policy.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		recs = append(recs, r.v.gate.CreateRecommendation(ctx, c))
	}
	return r.v.assembler.Enrich(recs, chain)
}

type validateFunc func(ctx context.Context, data []byte, requestID string) *validator.Result

// release validates the serialized form of resp, which is exactly what the
// caller would receive.
func (r *Request) release(ctx context.Context, kind string, resp any, validate validateFunc) ([]string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("request_id", r.ID).Str("kind", kind).Msg("response_assembly_failed")
		return nil, internalError("assembling response", err)
	}
	res := validate(ctx, data, r.ID)
	if !res.IsValid {
		log.Warn().
			Str("request_id", r.ID).
			Str("kind", kind).
			Str("category", string(res.Category)).
			Int("violations", len(res.Errors)).
			Func(verityotel.LogTraceFields(ctx)).
			Msg("response_discarded")
		return nil, &Error{Category: Category(res.Category), Violations: res.Errors}
	}
	return res.Warnings, nil
}

// checkProvenance blocks a response whose chain no longer resolves or that
// references calls recorded for another request or tenant.
func (r *Request) checkProvenance(ctx context.Context, kind string, chain evidence.Chain, cited []string) error {
	_, violations := r.v.assembler.Validate(ctx, chain)
	ids := append(append([]string{}, chain.CallIDs...), cited...)
	violations = append(violations, r.v.assembler.Foreign(ctx, r.ID, r.TenantID, ids)...)
	if len(violations) == 0 {
		return nil
	}
	log.Warn().
		Str("request_id", r.ID).
		Str("kind", kind).
		Str("category", string(CategoryLedgerConsistency)).
		Int("violations", len(violations)).
		Func(verityotel.LogTraceFields(ctx)).
		Msg("response_discarded")
	return &Error{Category: CategoryLedgerConsistency, Violations: violations}
}

func citationIDs(cs []Citation) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.CallID)
	}
	return ids
}

// consulted derives sources and data dependencies from the ledger rather
// than from the draft, so they list only calls that actually happened.
func (r *Request) consulted() ([]Source, []Dependency) {
	records := r.v.ledger.ForRequest(r.ID)
	sources := []Source{}
	deps := make([]Dependency, 0, len(records))
	seen := make(map[string]bool)
	for _, rec := range records {
		deps = append(deps, Dependency{Endpoint: rec.Endpoint, CallID: rec.CallID, Status: rec.Status})
		if !seen[rec.Endpoint] {
			seen[rec.Endpoint] = true
			sources = append(sources, Source{Name: rec.Endpoint, Type: "api", CallID: rec.CallID})
		}
	}
	return sources, deps
}

func citations(in []Citation) []Citation {
	if in == nil {
		return []Citation{}
	}
	return in
}

func mergeFields(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := []string{}
	for _, f := range append(append([]string{}, a...), b...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
