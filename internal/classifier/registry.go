package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Recognizer categories. Each scanner in this package consumes exactly one.
const (
	CategoryPII       = "pii"
	CategorySecret    = "secret"
	CategoryInjection = "injection"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig is a Presidio-style recognizer with verity extensions.
type RecognizerConfig struct {
	Name            string          `yaml:"name" json:"name"`
	SupportedEntity string          `yaml:"supported_entity" json:"supported_entity"`
	Category        string          `yaml:"category" json:"category"`
	Enabled         *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns        []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// Sensitivity (1-3) breaks ties between overlapping PII matches.
	Sensitivity int `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
	// Severity (1-3) is reported for injection indicators.
	Severity int `yaml:"severity,omitempty" json:"severity,omitempty"`
	// RedactGroup selects the capture group that is reported and replaced;
	// 0 means the whole match.
	RedactGroup int `yaml:"redact_group,omitempty" json:"redact_group,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string `yaml:"name" json:"name"`
	Regex string `yaml:"regex" json:"regex"`
}

// Pattern is a compiled recognizer pattern ready for matching.
type Pattern struct {
	Name        string
	Type        string
	Category    string
	Regex       *regexp.Regexp
	Sensitivity int
	Severity    int
	RedactGroup int
}

func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	for i, rec := range rf.Recognizers {
		switch rec.Category {
		case CategoryPII, CategorySecret, CategoryInjection:
		default:
			return nil, fmt.Errorf("recognizer %d (%q): unknown category %q", i, rec.Name, rec.Category)
		}
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing operator file as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers merges layers in order. Later layers override earlier ones
// by recognizer Name; new recognizers are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, rc)
			}
		}
	}

	return merged
}

// FilterByCategory keeps the recognizers of one category.
func FilterByCategory(recognizers []RecognizerConfig, category string) []RecognizerConfig {
	var out []RecognizerConfig
	for _, r := range recognizers {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// CompilePatterns converts recognizer configs into compiled patterns.
// Disabled recognizers are skipped; each regex yields one Pattern.
func CompilePatterns(recognizers []RecognizerConfig) ([]Pattern, error) {
	var patterns []Pattern

	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			if rec.RedactGroup > compiled.NumSubexp() {
				return nil, fmt.Errorf("recognizer %q: redact_group %d exceeds %d capture groups in %q",
					rec.Name, rec.RedactGroup, compiled.NumSubexp(), p.Name)
			}
			patterns = append(patterns, Pattern{
				Name:        rec.Name,
				Type:        entityToType(rec.SupportedEntity),
				Category:    rec.Category,
				Regex:       compiled,
				Sensitivity: rec.Sensitivity,
				Severity:    rec.Severity,
				RedactGroup: rec.RedactGroup,
			})
		}
	}

	return patterns, nil
}

// entityTypeMap maps recognizer entity names to the placeholder types used in
// redacted text (e.g. "EMAIL_ADDRESS" -> "email" -> "[EMAIL]").
var entityTypeMap = map[string]string{
	"EMAIL_ADDRESS": "email",
	"PHONE_NUMBER":  "phone",
	"CREDIT_CARD":   "credit_card",
	"US_SSN":        "ssn",
	"IP_ADDRESS":    "ip_address",
	"SECRET":        "secret",
}

func entityToType(entity string) string {
	if t, ok := entityTypeMap[entity]; ok {
		return t
	}
	return toLowerSnake(entity)
}

func toLowerSnake(s string) string {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			result = append(result, c+'a'-'A')
		} else {
			result = append(result, c)
		}
	}
	return string(result)
}
