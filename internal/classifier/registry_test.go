package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecognizerFile(t *testing.T) {
	yaml := `
recognizers:
  - name: "employee_id"
    supported_entity: "EMPLOYEE_ID"
    category: pii
    enabled: true
    sensitivity: 2
    patterns:
      - name: "emp"
        regex: '\bEMP-\d{6}\b'
  - name: "internal_token"
    supported_entity: "SECRET"
    category: secret
    patterns:
      - name: "itk"
        regex: '\bitk_[a-z0-9]{16}\b'
`
	rf, err := ParseRecognizerFile([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, rf.Recognizers, 2)

	assert.Equal(t, "employee_id", rf.Recognizers[0].Name)
	assert.Equal(t, CategoryPII, rf.Recognizers[0].Category)
	assert.True(t, rf.Recognizers[0].isEnabled())
	assert.Equal(t, 2, rf.Recognizers[0].Sensitivity)
	assert.True(t, rf.Recognizers[1].isEnabled(), "nil Enabled should default to true")
}

func TestParseRecognizerFile_Errors(t *testing.T) {
	_, err := ParseRecognizerFile([]byte(`{{{invalid`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing recognizer YAML")

	_, err = ParseRecognizerFile([]byte("recognizers:\n  - name: x\n    category: nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestLoadRecognizerFile(t *testing.T) {
	rf, err := LoadRecognizerFile("/nonexistent/file.yaml")
	require.NoError(t, err, "missing file should not return error")
	assert.Nil(t, rf)

	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recognizers:\n  - name: a\n    category: injection\n"), 0o644))
	rf, err = LoadRecognizerFile(path)
	require.NoError(t, err)
	require.NotNil(t, rf)
	assert.Len(t, rf.Recognizers, 1)
}

func TestMergeRecognizers_OverrideByName(t *testing.T) {
	disabled := false
	base := []RecognizerConfig{{Name: "a", Category: CategoryPII}, {Name: "b", Category: CategoryPII}}
	override := []RecognizerConfig{{Name: "a", Category: CategoryPII, Enabled: &disabled}, {Name: "c", Category: CategorySecret}}

	merged := MergeRecognizers(base, override)
	require.Len(t, merged, 3)
	assert.False(t, merged[0].isEnabled())
	assert.Equal(t, "c", merged[2].Name)
	assert.Len(t, FilterByCategory(merged, CategorySecret), 1)
}

func TestCompilePatterns(t *testing.T) {
	_, err := CompilePatterns([]RecognizerConfig{{
		Name: "bad", Category: CategoryPII,
		Patterns: []PatternConfig{{Name: "p", Regex: "("}},
	}})
	require.Error(t, err)

	_, err = CompilePatterns([]RecognizerConfig{{
		Name: "group", Category: CategorySecret, RedactGroup: 2,
		Patterns: []PatternConfig{{Name: "p", Regex: "(a)b"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redact_group")

	ps, err := CompilePatterns([]RecognizerConfig{{
		Name: "ok", SupportedEntity: "EMAIL_ADDRESS", Category: CategoryPII,
		Patterns: []PatternConfig{{Name: "p", Regex: "x"}},
	}})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "email", ps[0].Type)
}

func TestDefaultRecognizers_AllCategoriesCompile(t *testing.T) {
	recs, err := DefaultRecognizers()
	require.NoError(t, err)
	for _, cat := range []string{CategoryPII, CategorySecret, CategoryInjection} {
		ps, err := CompilePatterns(FilterByCategory(recs, cat))
		require.NoError(t, err, cat)
		assert.NotEmpty(t, ps, cat)
	}
}
