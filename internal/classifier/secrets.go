package classifier

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// RedactionMarker replaces secret values wherever they are removed.
const RedactionMarker = "***REDACTED***"

// secretIndicators are the field-name fragments that mark a field as secret.
// Names are normalized (lowercase, '-' and ' ' to '_') before matching.
var secretIndicators = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"authorization",
	"credential",
	"ssn",
	"credit_card",
}

// IsSecretFieldName reports whether a field name matches the secret-indicator
// list. Matching is by substring on the normalized name; multi-word
// indicators also match the compact form without underscores, so "apiKey",
// "API-Key" and "x_api_key" all match.
func IsSecretFieldName(name string) bool {
	normalized := strings.ToLower(name)
	normalized = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(normalized)
	compact := strings.ReplaceAll(normalized, "_", "")
	for _, ind := range secretIndicators {
		if strings.Contains(normalized, ind) {
			return true
		}
		if strings.Contains(ind, "_") && strings.Contains(compact, strings.ReplaceAll(ind, "_", "")) {
			return true
		}
	}
	return false
}

// SecretStripper removes secret-shaped substrings from free text.
type SecretStripper struct {
	patterns []Pattern
}

// NewSecretStripper builds a stripper from the secret recognizers.
func NewSecretStripper(opts ...Option) (*SecretStripper, error) {
	compiled, err := buildPatterns(CategorySecret, opts)
	if err != nil {
		return nil, err
	}
	return &SecretStripper{patterns: compiled}, nil
}

// Strip replaces every secret match with RedactionMarker and returns the
// cleaned text together with the names of the recognizers that fired.
// Recognizers with a redact group keep the surrounding text (e.g. the
// "api_key=" prefix) and replace only that group.
func (s *SecretStripper) Strip(ctx context.Context, text string) (string, []string) {
	_, span := tracer.Start(ctx, "classifier.strip_secrets")
	defer span.End()

	var fired []string
	out := text
	for _, p := range s.patterns {
		next := replaceGroup(p, out)
		if next != out {
			fired = append(fired, p.Name)
			out = next
		}
	}

	span.SetAttributes(attribute.Int("secrets.recognizers_fired", len(fired)))
	return out, fired
}

func replaceGroup(p Pattern, text string) string {
	locs := p.Regex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, loc := range locs {
		start, end := loc[2*p.RedactGroup], loc[2*p.RedactGroup+1]
		if start < 0 {
			continue
		}
		b.WriteString(text[prev:start])
		b.WriteString(RedactionMarker)
		prev = end
	}
	b.WriteString(text[prev:])
	return b.String()
}
