package classifier

import (
	"fmt"

	"github.com/dativo-io/verity/patterns"
)

// DefaultRecognizers returns the built-in recognizers of every category,
// parsed from the embedded YAML files. This is the first merge layer.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	var all []RecognizerConfig
	files := []struct {
		name string
		data []byte
	}{
		{"pii.yaml", patterns.PIIYAML()},
		{"secrets.yaml", patterns.SecretsYAML()},
		{"injection.yaml", patterns.InjectionYAML()},
	}
	for _, f := range files {
		rf, err := ParseRecognizerFile(f.data)
		if err != nil {
			return nil, fmt.Errorf("parsing embedded %s: %w", f.name, err)
		}
		all = append(all, rf.Recognizers...)
	}
	return all, nil
}

// Option configures scanner construction via the functional options pattern.
type Option func(*options)

type options struct {
	patternFile       string
	disabledEntities  []string
	customRecognizers []RecognizerConfig
}

// WithPatternFile layers operator recognizers from a YAML file over the
// embedded defaults. A missing file is skipped.
func WithPatternFile(path string) Option {
	return func(o *options) { o.patternFile = path }
}

// WithDisabledEntities removes recognizers for the given supported entities.
func WithDisabledEntities(entities []string) Option {
	return func(o *options) { o.disabledEntities = entities }
}

// WithCustomRecognizers adds recognizers as the last merge layer.
func WithCustomRecognizers(recognizers []RecognizerConfig) Option {
	return func(o *options) { o.customRecognizers = recognizers }
}

// buildPatterns runs the merge chain (embedded, operator file, custom) and
// compiles the recognizers of one category.
func buildPatterns(category string, opts []Option) ([]Pattern, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}

	var operator []RecognizerConfig
	if o.patternFile != "" {
		rf, err := LoadRecognizerFile(o.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			operator = rf.Recognizers
		}
	}

	merged := MergeRecognizers(defaults, operator, o.customRecognizers)
	merged = FilterByCategory(merged, category)

	if len(o.disabledEntities) > 0 {
		blocked := make(map[string]bool, len(o.disabledEntities))
		for _, e := range o.disabledEntities {
			blocked[e] = true
		}
		var kept []RecognizerConfig
		for _, r := range merged {
			if !blocked[r.SupportedEntity] {
				kept = append(kept, r)
			}
		}
		merged = kept
	}

	compiled, err := CompilePatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling %s patterns: %w", category, err)
	}
	return compiled, nil
}
