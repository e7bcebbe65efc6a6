// Package patterns provides the embedded default recognizer definitions used
// by the input sanitizer and the call ledger. Files use the Presidio-style
// recognizer YAML format with verity extensions (category, sensitivity,
// severity, redact_group).
package patterns

import _ "embed"

//go:embed pii.yaml
var piiYAML []byte

//go:embed secrets.yaml
var secretsYAML []byte

//go:embed injection.yaml
var injectionYAML []byte

// PIIYAML returns the embedded default PII recognizer definitions.
func PIIYAML() []byte { return piiYAML }

// SecretsYAML returns the embedded default secret recognizer definitions.
func SecretsYAML() []byte { return secretsYAML }

// InjectionYAML returns the embedded default injection recognizer definitions.
func InjectionYAML() []byte { return injectionYAML }
