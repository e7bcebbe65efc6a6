// Package validator is the last checkpoint before a response leaves the
// process. It checks structure against JSON Schema, ranges and request
// echo in Go, advise actions against the policy table in Rego, and every
// citation against the call ledger.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	verityotel "github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/policy"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/validator")

// Category classifies a failed validation.
type Category string

const (
	CategoryOutputContract    Category = "output_contract"
	CategoryLedgerConsistency Category = "ledger_consistency"
)

const (
	DefaultMinAnswerLength = 20
	DefaultLowConfidence   = 0.3
)

// CallVerifier resolves citations. *ledger.Ledger satisfies it.
type CallVerifier interface {
	VerifyCitation(callID, endpoint string) bool
	Has(callID string) bool
}

// Result is the outcome of validating one response. Errors block emission;
// Warnings do not.
type Result struct {
	IsValid  bool     `json:"is_valid" yaml:"is_valid"`
	Errors   []string `json:"errors" yaml:"errors"`
	Warnings []string `json:"warnings" yaml:"warnings"`
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Option configures a Validator.
type Option func(*Validator)

// WithLedger enables citation and evidence checks against calls.
func WithLedger(calls CallVerifier) Option {
	return func(v *Validator) { v.calls = calls }
}

// WithMinAnswerLength sets the length, in characters, under which an answer
// or summary draws a warning.
func WithMinAnswerLength(n int) Option {
	return func(v *Validator) {
		if n >= 0 {
			v.minAnswerLength = n
		}
	}
}

// WithLowConfidence sets the overall confidence under which a response draws
// a warning.
func WithLowConfidence(c float64) Option {
	return func(v *Validator) {
		if policy.InUnitRange(c) {
			v.lowConfidence = c
		}
	}
}

// Validator holds compiled schemas and a prepared Rego query; it is
// immutable after New and safe for concurrent use.
type Validator struct {
	chat            *gojsonschema.Schema
	advise          *gojsonschema.Schema
	actions         rego.PreparedEvalQuery
	calls           CallVerifier
	minAnswerLength int
	lowConfidence   float64
}

// New compiles both response schemas and prepares the action re-derivation
// policy.
func New(ctx context.Context, opts ...Option) (*Validator, error) {
	ctx, span := tracer.Start(ctx, "validator.new")
	defer span.End()

	v := &Validator{minAnswerLength: DefaultMinAnswerLength, lowConfidence: DefaultLowConfidence}
	for _, opt := range opts {
		opt(v)
	}

	var err error
	if v.chat, err = compileSchema(chatSchema); err != nil {
		return nil, fmt.Errorf("compiling chat schema: %w", err)
	}
	if v.advise, err = compileSchema(adviseSchema); err != nil {
		return nil, fmt.Errorf("compiling advise schema: %w", err)
	}
	if v.actions, err = prepareActionsQuery(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return v, nil
}

// ValidateChatResponse validates a chat response assembled for requestID.
func (v *Validator) ValidateChatResponse(ctx context.Context, resp map[string]any, requestID string) *Result {
	return v.run(ctx, "chat", resp, requestID)
}

// ValidateAdviseResponse validates an advise response assembled for requestID.
func (v *Validator) ValidateAdviseResponse(ctx context.Context, resp map[string]any, requestID string) *Result {
	return v.run(ctx, "advise", resp, requestID)
}

// ValidateChatJSON validates a serialized chat response.
func (v *Validator) ValidateChatJSON(ctx context.Context, data []byte, requestID string) *Result {
	doc, err := decodeObject(data)
	if err != nil {
		return contractFailure(err.Error())
	}
	return v.run(ctx, "chat", doc, requestID)
}

// ValidateAdviseJSON validates a serialized advise response.
func (v *Validator) ValidateAdviseJSON(ctx context.Context, data []byte, requestID string) *Result {
	doc, err := decodeObject(data)
	if err != nil {
		return contractFailure(err.Error())
	}
	return v.run(ctx, "advise", doc, requestID)
}

func (v *Validator) run(ctx context.Context, kind string, resp map[string]any, requestID string) *Result {
	ctx, span := tracer.Start(ctx, "validator."+kind)
	defer span.End()

	res := v.validate(ctx, kind, resp, requestID)

	span.SetAttributes(
		attribute.String("validator.request_id", requestID),
		attribute.Bool("validator.valid", res.IsValid),
		attribute.Int("validator.errors", len(res.Errors)),
		attribute.Int("validator.warnings", len(res.Warnings)),
	)
	if !res.IsValid {
		span.SetStatus(codes.Error, string(res.Category))
		log.Warn().
			Str("request_id", requestID).
			Str("kind", kind).
			Str("category", string(res.Category)).
			Strs("errors", res.Errors).
			Func(verityotel.LogTraceFields(ctx)).
			Msg("response_blocked")
	}
	return res
}

func (v *Validator) validate(ctx context.Context, kind string, resp map[string]any, requestID string) *Result {
	// Normalizing through JSON makes typed Go values and decoded payloads
	// look the same to every check below.
	raw, err := json.Marshal(resp)
	if err != nil {
		return contractFailure(fmt.Sprintf("response is not serializable: %v", err))
	}
	doc, err := decodeObject(raw)
	if err != nil {
		return contractFailure(err.Error())
	}

	schema, textField := v.chat, "answer"
	if kind == "advise" {
		schema, textField = v.advise, "summary"
	}

	c := &checker{errors: []string{}, warnings: []string{}}
	schemaErrs, err := checkSchema(schema, doc)
	if err != nil {
		return contractFailure(err.Error())
	}
	c.errors = append(c.errors, schemaErrs...)

	c.checkEcho(doc, requestID)
	c.checkUnitRange(doc, "confidence", "confidence")
	if kind == "advise" {
		eachObject(doc["recommended_actions"], func(i int, a map[string]any) {
			prefix := fmt.Sprintf("recommended_actions[%d]", i)
			c.checkUnitRange(a, "confidence", prefix+".confidence")
			c.checkUnitRange(a, "risk_reduction", prefix+".risk_reduction")
		})
		v.checkActions(ctx, c, doc)
	}
	if v.calls != nil {
		v.checkLedger(c, kind, doc)
	}
	v.warn(c, kind, textField, doc)

	res := &Result{IsValid: len(c.errors) == 0, Errors: c.errors, Warnings: c.warnings}
	if !res.IsValid {
		res.Category = CategoryOutputContract
		if c.ledgerFailure {
			res.Category = CategoryLedgerConsistency
		}
	}
	return res
}

type checker struct {
	errors        []string
	warnings      []string
	ledgerFailure bool
}

func (c *checker) fail(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *checker) ledgerFail(format string, args ...any) {
	c.ledgerFailure = true
	c.fail(format, args...)
}

func (c *checker) checkEcho(doc map[string]any, requestID string) {
	if got, ok := doc["request_id"].(string); ok && got != requestID {
		c.fail("request_id mismatch: response has %q, request is %q", got, requestID)
	}
	chain, _ := doc["evidence_chain"].(map[string]any)
	if got, ok := chain["request_id"].(string); ok && got != requestID {
		c.fail("evidence_chain.request_id mismatch: chain has %q, request is %q", got, requestID)
	}
}

// checkUnitRange reports a number outside [0, 1]. Non-numbers are left to
// the schema.
func (c *checker) checkUnitRange(obj map[string]any, key, label string) {
	if n, ok := obj[key].(float64); ok && !policy.InUnitRange(n) {
		c.fail("%s %v out of range [0.0, 1.0]", label, n)
	}
}

func (v *Validator) checkActions(ctx context.Context, c *checker, doc map[string]any) {
	actions, ok := doc["recommended_actions"].([]any)
	if !ok {
		return
	}
	reasons, err := evaluateDenyReasons(ctx, v.actions, map[string]any{"actions": actions})
	if err != nil {
		log.Error().Err(err).Msg("action_rederivation_failed")
		c.fail("action re-derivation failed: %v", err)
		return
	}
	c.errors = append(c.errors, reasons...)
}

func (v *Validator) checkLedger(c *checker, kind string, doc map[string]any) {
	for _, field := range []string{"citations", "data_dependencies"} {
		eachObject(doc[field], func(i int, cit map[string]any) {
			id, idOK := cit["call_id"].(string)
			endpoint, epOK := cit["endpoint"].(string)
			if idOK && epOK && !v.calls.VerifyCitation(id, endpoint) {
				c.ledgerFail("%s[%d]: call_id %s does not verify against endpoint %s", field, i, id, endpoint)
			}
		})
	}
	eachObject(doc["sources"], func(i int, src map[string]any) {
		if id, ok := src["call_id"].(string); ok && id != "" && !v.calls.Has(id) {
			c.ledgerFail("sources[%d]: call_id %s does not resolve in the ledger", i, id)
		}
	})
	chain, _ := doc["evidence_chain"].(map[string]any)
	for _, id := range strs(chain["call_ids"]) {
		if !v.calls.Has(id) {
			c.ledgerFail("evidence_chain: call_id %s does not resolve in the ledger", id)
		}
	}
	if kind != "advise" {
		return
	}
	eachObject(doc["recommended_actions"], func(i int, a map[string]any) {
		for _, id := range strs(a["evidence_call_ids"]) {
			if !v.calls.Has(id) {
				c.ledgerFail("recommended_actions[%d]: evidence call_id %s does not resolve in the ledger", i, id)
			}
		}
	})
}

func (v *Validator) warn(c *checker, kind, textField string, doc map[string]any) {
	if cits, ok := doc["citations"].([]any); ok && len(cits) == 0 {
		c.warnings = append(c.warnings, "citations list is empty")
	}
	if text, ok := doc[textField].(string); ok {
		if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < v.minAnswerLength {
			c.warnings = append(c.warnings, fmt.Sprintf("%s is very short (%d < %d characters)", textField, n, v.minAnswerLength))
		}
	}
	if conf, ok := doc["confidence"].(float64); ok && policy.InUnitRange(conf) && conf < v.lowConfidence {
		c.warnings = append(c.warnings, fmt.Sprintf("overall confidence %.2f is below %.2f", conf, v.lowConfidence))
	}
	if kind != "advise" {
		return
	}
	actions, _ := doc["recommended_actions"].([]any)
	chain, _ := doc["evidence_chain"].(map[string]any)
	if complete, ok := chain["is_complete"].(bool); len(actions) > 0 && ok && !complete {
		missing := strs(chain["missing_links"])
		c.warnings = append(c.warnings, fmt.Sprintf("recommended actions lack a complete evidence chain (missing: %s)", strings.Join(missing, ", ")))
	}
}

func contractFailure(msg string) *Result {
	return &Result{Errors: []string{msg}, Warnings: []string{}, Category: CategoryOutputContract}
}

func decodeObject(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("response is not a JSON object: null")
	}
	return doc, nil
}

// eachObject calls fn for every map element of a JSON array, with its index
// in the original array. Other elements are left to the schema.
func eachObject(x any, fn func(i int, m map[string]any)) {
	items, _ := x.([]any)
	for i, item := range items {
		if m, ok := item.(map[string]any); ok {
			fn(i, m)
		}
	}
}

func strs(x any) []string {
	items, _ := x.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
