package classifier

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	verityotel "github.com/dativo-io/verity/internal/otel"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/classifier")

// PIIEntity represents a detected PII instance.
type PIIEntity struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Position    int    `json:"position"`
	Sensitivity int    `json:"sensitivity"`
}

// Classification holds the result of PII scanning.
type Classification struct {
	HasPII   bool        `json:"has_pii"`
	Entities []PIIEntity `json:"entities"`
}

// Types returns the distinct entity types found, sorted.
func (c *Classification) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.Entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	sort.Strings(out)
	return out
}

// Scanner detects PII in text using the pii recognizers.
type Scanner struct {
	patterns []Pattern
}

// NewScanner creates a PII scanner from the embedded defaults plus any
// operator or custom layers.
func NewScanner(opts ...Option) (*Scanner, error) {
	compiled, err := buildPatterns(CategoryPII, opts)
	if err != nil {
		return nil, err
	}
	return &Scanner{patterns: compiled}, nil
}

// Scan reports every PII match in text. Recognizers with a redact group
// report only that group, so guard characters around a match stay put.
func (s *Scanner) Scan(ctx context.Context, text string) *Classification {
	_, span := tracer.Start(ctx, "classifier.scan")
	defer span.End()

	result := &Classification{Entities: []PIIEntity{}}
	for _, pattern := range s.patterns {
		g := pattern.RedactGroup
		for _, loc := range pattern.Regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*g], loc[2*g+1]
			if start < 0 || start == end {
				continue
			}
			result.Entities = append(result.Entities, PIIEntity{
				Type:        pattern.Type,
				Value:       text[start:end],
				Position:    start,
				Sensitivity: pattern.Sensitivity,
			})
			result.HasPII = true
		}
	}

	span.SetAttributes(
		attribute.Bool("pii.detected", result.HasPII),
		attribute.Int("pii.entity_count", len(result.Entities)),
	)
	return result
}

// Redact replaces PII with type-based placeholders (e.g. "[EMAIL]") and
// repeats until a pass changes nothing. A placeholder can open a boundary
// that lets an adjacent match through on the next pass; running to the
// fixpoint makes Redact idempotent. Each changing pass removes at least one
// digit or '@', neither of which a placeholder contains, so the loop is
// bounded by len(text).
func (s *Scanner) Redact(ctx context.Context, text string) string {
	ctx, span := tracer.Start(ctx, "classifier.redact")
	defer span.End()

	seen := make(map[string]bool)
	out := text
	passes := 0
	for passes <= len(text) {
		passes++
		classification := s.Scan(ctx, out)
		if !classification.HasPII {
			break
		}
		for _, t := range classification.Types() {
			seen[t] = true
		}
		next := redactOnce(out, classification.Entities)
		if next == out {
			break
		}
		out = next
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	span.SetAttributes(
		attribute.StringSlice("pii.types", types),
		attribute.Int("pii.passes", passes),
	)
	return out
}

// redactOnce replaces entities in one pass. Overlapping matches are merged
// and take the placeholder of the more sensitive recognizer.
func redactOnce(text string, entities []PIIEntity) string {
	type match struct {
		start       int
		end         int
		ptype       string
		sensitivity int
	}

	matches := make([]match, len(entities))
	for i, e := range entities {
		matches[i] = match{
			start:       e.Position,
			end:         e.Position + len(e.Value),
			ptype:       e.Type,
			sensitivity: e.Sensitivity,
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		lenI := matches[i].end - matches[i].start
		lenJ := matches[j].end - matches[j].start
		if lenI != lenJ {
			return lenI > lenJ
		}
		return matches[i].sensitivity > matches[j].sensitivity
	})

	var merged []match
	for _, m := range matches {
		if len(merged) == 0 {
			merged = append(merged, m)
			continue
		}
		last := &merged[len(merged)-1]
		if m.start < last.end {
			if m.sensitivity > last.sensitivity {
				last.ptype = m.ptype
				last.sensitivity = m.sensitivity
			}
			if m.end > last.end {
				last.end = m.end
			}
		} else {
			merged = append(merged, m)
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range merged {
		b.WriteString(text[prev:m.start])
		b.WriteString(Placeholder(m.ptype))
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Placeholder returns the redaction placeholder for a PII type.
func Placeholder(piiType string) string {
	return "[" + strings.ToUpper(piiType) + "]"
}
