package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WritePatternFile writes an operator recognizer file into dir and returns
// its path.
func WritePatternFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "patterns.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// EmployeeIDPatterns adds a custom PII recognizer and disables IPv4 redaction.
const EmployeeIDPatterns = `
recognizers:
  - name: "employee_id"
    supported_entity: "EMPLOYEE_ID"
    category: pii
    sensitivity: 2
    patterns:
      - name: "emp"
        regex: '\bEMP-\d{6}\b'
  - name: "ipv4_address"
    supported_entity: "IP_ADDRESS"
    category: pii
    enabled: false
`
