// Package sanitize cleans untrusted caller text and context before it reaches
// the reasoning engine or any log. Secrets and PII are remediated in place;
// injection indicators and oversized fields make the input unsafe.
package sanitize

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/verity/internal/classifier"
	verityotel "github.com/dativo-io/verity/internal/otel"
	"github.com/dativo-io/verity/internal/requestctx"
	"github.com/dativo-io/verity/internal/tree"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/sanitize")

// DefaultMaxFieldLength is the per-string ceiling, in runes.
const DefaultMaxFieldLength = 10000

// MessageField is the path reported for the caller's free-text message.
const MessageField = "message"

// rootField names a scalar context that is not wrapped in a map.
const rootField = "context"

// maxTextPasses bounds the strip/redact loop in SanitizeText.
const maxTextPasses = 8

// Option configures a Sanitizer.
type Option func(*options)

type options struct {
	maxFieldLength int
	classifierOpts []classifier.Option
}

// WithPatternFile layers operator recognizers over the embedded defaults.
func WithPatternFile(path string) Option {
	return func(o *options) {
		if path != "" {
			o.classifierOpts = append(o.classifierOpts, classifier.WithPatternFile(path))
		}
	}
}

// WithMaxFieldLength sets the per-string ceiling. Non-positive values are ignored.
func WithMaxFieldLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFieldLength = n
		}
	}
}

// Sanitizer is immutable after New and safe for concurrent use.
type Sanitizer struct {
	secrets        *classifier.SecretStripper
	pii            *classifier.Scanner
	injection      *classifier.InjectionDetector
	maxFieldLength int
}

// Result is the outcome of sanitizing a context or message.
type Result struct {
	Sanitized      tree.Value `json:"sanitized"`
	RedactedFields []string   `json:"redacted_fields"`
	Errors         []string   `json:"errors"`
	IsSafe         bool       `json:"is_safe"`
}

// New compiles the secret, PII and injection recognizers.
func New(opts ...Option) (*Sanitizer, error) {
	o := options{maxFieldLength: DefaultMaxFieldLength}
	for _, opt := range opts {
		opt(&o)
	}
	secrets, err := classifier.NewSecretStripper(o.classifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("building secret stripper: %w", err)
	}
	pii, err := classifier.NewScanner(o.classifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("building PII scanner: %w", err)
	}
	injection, err := classifier.NewInjectionDetector(o.classifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("building injection detector: %w", err)
	}
	return &Sanitizer{
		secrets:        secrets,
		pii:            pii,
		injection:      injection,
		maxFieldLength: o.maxFieldLength,
	}, nil
}

// MaxFieldLength returns the per-string ceiling in runes.
func (s *Sanitizer) MaxFieldLength() int { return s.maxFieldLength }

// SanitizeText strips secrets, then redacts PII, and repeats until a pass
// changes nothing: a placeholder can expose a secret that was glued to PII.
// The bool reports whether the output differs from text. Sanitizing its own
// output is a no-op.
func (s *Sanitizer) SanitizeText(ctx context.Context, text string) (string, bool) {
	ctx, span := tracer.Start(ctx, "sanitize.text")
	defer span.End()

	out := text
	for range maxTextPasses {
		next, _ := s.secrets.Strip(ctx, out)
		next = s.pii.Redact(ctx, next)
		if next == out {
			break
		}
		out = next
	}
	modified := out != text
	span.SetAttributes(attribute.Bool("sanitize.modified", modified))
	return out, modified
}

// SanitizeContext sanitizes every string in v. A null context is treated as
// an empty map.
func (s *Sanitizer) SanitizeContext(ctx context.Context, v tree.Value) *Result {
	ctx, span := tracer.Start(ctx, "sanitize.context")
	defer span.End()

	if v.IsNull() {
		v = tree.EmptyMap()
	}
	w := &walker{s: s, redacted: make(map[string]bool)}
	out := w.walk(ctx, "", v)
	res := w.result(out)

	span.SetAttributes(
		attribute.Int("sanitize.redacted_fields", len(res.RedactedFields)),
		attribute.Int("sanitize.errors", len(res.Errors)),
		attribute.Bool("sanitize.safe", res.IsSafe),
	)
	logUnsafe(ctx, res)
	return res
}

// SanitizeMessage applies the context rules to the caller's free-text message.
func (s *Sanitizer) SanitizeMessage(ctx context.Context, text string) *Result {
	ctx, span := tracer.Start(ctx, "sanitize.message")
	defer span.End()

	w := &walker{s: s, redacted: make(map[string]bool)}
	out := w.walk(ctx, MessageField, tree.String(text))
	res := w.result(out)
	span.SetAttributes(attribute.Bool("sanitize.safe", res.IsSafe))
	logUnsafe(ctx, res)
	return res
}

func logUnsafe(ctx context.Context, res *Result) {
	if res.IsSafe {
		return
	}
	log.Warn().
		Str("request_id", requestctx.RequestID(ctx)).
		Strs("errors", res.Errors).
		Func(verityotel.LogTraceFields(ctx)).
		Msg("input_unsafe")
}

type walker struct {
	s        *Sanitizer
	redacted map[string]bool
	errors   []string
}

func (w *walker) result(out tree.Value) *Result {
	fields := make([]string, 0, len(w.redacted))
	for f := range w.redacted {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	errs := w.errors
	if errs == nil {
		errs = []string{}
	}
	return &Result{
		Sanitized:      out,
		RedactedFields: fields,
		Errors:         errs,
		IsSafe:         len(errs) == 0,
	}
}

// walk visits map keys in sorted order so errors come out deterministically.
func (w *walker) walk(ctx context.Context, path string, v tree.Value) tree.Value {
	switch v.Kind() {
	case tree.KindMap:
		fields := make(map[string]tree.Value, v.Len())
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			childPath := joinPath(path, k)
			if classifier.IsSecretFieldName(k) {
				fields[k] = tree.String(classifier.RedactionMarker)
				w.redacted[childPath] = true
				continue
			}
			fields[k] = w.walk(ctx, childPath, child)
		}
		return tree.Map(fields)
	case tree.KindList:
		items := v.Items()
		for i := range items {
			items[i] = w.walk(ctx, path+"["+strconv.Itoa(i)+"]", items[i])
		}
		return tree.List(items...)
	case tree.KindString:
		str, _ := v.Str()
		return tree.String(w.visitString(ctx, fieldName(path), str))
	default:
		return v
	}
}

func (w *walker) visitString(ctx context.Context, field, text string) string {
	if n := utf8.RuneCountInString(text); n > w.s.maxFieldLength {
		w.errors = append(w.errors, fmt.Sprintf("field %s exceeds maximum length (%d > %d)", field, n, w.s.maxFieldLength))
	}
	if names := classifier.Recognizers(w.s.injection.Detect(ctx, text)); len(names) > 0 {
		w.errors = append(w.errors, fmt.Sprintf("field %s contains injection indicators: %s", field, strings.Join(names, ", ")))
	}
	cleaned, modified := w.s.SanitizeText(ctx, text)
	if modified {
		w.redacted[field] = true
	}
	return cleaned
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func fieldName(path string) string {
	if path == "" {
		return rootField
	}
	return path
}
