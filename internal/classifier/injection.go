package classifier

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// InjectionFinding is one injection indicator matched in text.
type InjectionFinding struct {
	Recognizer string `json:"recognizer"`
	Position   int    `json:"position"`
	Severity   int    `json:"severity"`
}

// InjectionDetector flags SQL-control and prompt-override indicators. It
// never modifies text.
type InjectionDetector struct {
	patterns []Pattern
}

// NewInjectionDetector builds a detector from the injection recognizers.
func NewInjectionDetector(opts ...Option) (*InjectionDetector, error) {
	compiled, err := buildPatterns(CategoryInjection, opts)
	if err != nil {
		return nil, err
	}
	return &InjectionDetector{patterns: compiled}, nil
}

// Detect returns the first match of each pattern that fires, in pattern order.
func (d *InjectionDetector) Detect(ctx context.Context, text string) []InjectionFinding {
	_, span := tracer.Start(ctx, "classifier.detect_injection")
	defer span.End()

	var findings []InjectionFinding
	maxSeverity := 0
	for _, p := range d.patterns {
		loc := p.Regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		findings = append(findings, InjectionFinding{
			Recognizer: p.Name,
			Position:   loc[0],
			Severity:   p.Severity,
		})
		if p.Severity > maxSeverity {
			maxSeverity = p.Severity
		}
	}

	span.SetAttributes(
		attribute.Int("injection.count", len(findings)),
		attribute.Int("injection.max_severity", maxSeverity),
	)
	return findings
}

// Recognizers returns the distinct recognizer names among findings, in order.
func Recognizers(findings []InjectionFinding) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range findings {
		if !seen[f.Recognizer] {
			seen[f.Recognizer] = true
			out = append(out, f.Recognizer)
		}
	}
	return out
}
