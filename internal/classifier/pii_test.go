package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(t *testing.T, opts ...Option) *Scanner {
	t.Helper()
	s, err := NewScanner(opts...)
	require.NoError(t, err)
	return s
}

func TestPIIDetection(t *testing.T) {
	scanner := newScanner(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		text      string
		wantPII   bool
		wantTypes []string
	}{
		{
			name:    "no PII",
			text:    "Entity db-1 has 3 open findings",
			wantPII: false,
		},
		{
			name:      "email address",
			text:      "Contact me at user@example.com",
			wantPII:   true,
			wantTypes: []string{"email"},
		},
		{
			name:      "ssn",
			text:      "SSN 123-45-6789 on file",
			wantPII:   true,
			wantTypes: []string{"ssn"},
		},
		{
			name:      "credit card grouped",
			text:      "Card: 4111 1111 1111 1111",
			wantPII:   true,
			wantTypes: []string{"credit_card"},
		},
		{
			name:      "phone",
			text:      "Call (555) 123-4567 today",
			wantPII:   true,
			wantTypes: []string{"phone"},
		},
		{
			name:      "IPv4 address",
			text:      "Server at 192.168.1.100",
			wantPII:   true,
			wantTypes: []string{"ip_address"},
		},
		{
			name:      "multiple types",
			text:      "Email: test@example.com from 10.0.0.1",
			wantPII:   true,
			wantTypes: []string{"email", "ip_address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := scanner.Scan(ctx, tt.text)
			assert.Equal(t, tt.wantPII, result.HasPII)
			if tt.wantTypes != nil {
				for _, want := range tt.wantTypes {
					assert.Contains(t, result.Types(), want)
				}
			}
		})
	}
}

func TestRedact(t *testing.T) {
	scanner := newScanner(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "mail bob@corp.io now", "mail [EMAIL] now"},
		{"ssn", "ssn 123-45-6789", "ssn [SSN]"},
		{"card", "card 4111-1111-1111-1111 used", "card [CREDIT_CARD] used"},
		{"ip", "from 10.1.2.3", "from [IP_ADDRESS]"},
		{"clean", "nothing here", "nothing here"},
		{"glued to email", "bob@corp.io555-123-4567", "[EMAIL][PHONE]"},
		{"glued to letters", "host10.1.2.3up", "host[IP_ADDRESS]up"},
		{"adjacent ssns", "123-45-6789 123-45-6789", "[SSN] [SSN]"},
		{"card then digit", "4111111111111111x9", "[CREDIT_CARD]x9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanner.Redact(ctx, tt.in))
		})
	}
}

func TestRedact_Idempotent(t *testing.T) {
	scanner := newScanner(t)
	ctx := context.Background()

	once := scanner.Redact(ctx, "a@b.co, 555-123-4567, 123-45-6789, 4111111111111111, 8.8.8.8")
	twice := scanner.Redact(ctx, once)
	assert.Equal(t, once, twice)
}

func TestNewScanner_DisabledEntities(t *testing.T) {
	scanner, err := NewScanner(WithDisabledEntities([]string{"IP_ADDRESS"}))
	require.NoError(t, err)
	result := scanner.Scan(context.Background(), "host 10.0.0.1")
	assert.False(t, result.HasPII)
}

func TestNewScanner_CustomRecognizer(t *testing.T) {
	scanner, err := NewScanner(WithCustomRecognizers([]RecognizerConfig{{
		Name:            "employee_id",
		SupportedEntity: "EMPLOYEE_ID",
		Category:        CategoryPII,
		Sensitivity:     2,
		Patterns:        []PatternConfig{{Name: "emp", Regex: `\bEMP-\d{6}\b`}},
	}}))
	require.NoError(t, err)
	assert.Equal(t, "owner [EMPLOYEE_ID]", scanner.Redact(context.Background(), "owner EMP-123456"))
}

func TestScan_ReportsGroupOnly(t *testing.T) {
	result := newScanner(t).Scan(context.Background(), "ssn:123-45-6789.")
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "123-45-6789", result.Entities[0].Value)
	assert.Equal(t, 4, result.Entities[0].Position)
	assert.Equal(t, []string{"ssn"}, result.Types())
}
