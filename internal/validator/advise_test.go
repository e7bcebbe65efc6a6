package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/verity/internal/testutil"
)

func TestValidateAdvise_Valid(t *testing.T) {
	l, id := recorded(t)
	v := newValidator(t, WithLedger(l))

	res := v.ValidateAdviseResponse(context.Background(), testutil.AdviseResponse("req-1", id, endpoint), "req-1")
	assert.True(t, res.IsValid, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateAdvise_Rederivation(t *testing.T) {
	v := newValidator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(a map[string]any)
		wantErr string
	}{
		{"unlisted kind", func(a map[string]any) { a["action"] = "delete_everything" }, `action "delete_everything" is not in the allow-list`},
		{"bad priority", func(a map[string]any) { a["priority"] = "urgent" }, `priority "urgent" must be one of`},
		{"bad blast radius", func(a map[string]any) { a["blast_radius"] = "galaxy" }, `blast_radius "galaxy" must be one of`},
		{"bad impact", func(a map[string]any) { a["impact_level"] = "severe" }, `impact_level "severe" must be one of`},
		{"blast radius disagrees", func(a map[string]any) { a["blast_radius"] = "segment" }, "blast_radius \"segment\" disagrees with policy"},
		{"impact disagrees", func(a map[string]any) { a["impact_level"] = "high" }, "impact_level \"high\" disagrees with policy"},
		{"approval disagrees", func(a map[string]any) { a["approval_required"] = true }, "approval_required true disagrees with policy"},
		{"below min confidence", func(a map[string]any) { a["confidence"] = 0.1 }, "marked valid with confidence 0.1 < 0.3"},
		{"marked invalid", func(a map[string]any) { a["is_valid"] = false }, "notify_owner is marked invalid"},
		{"risk reduction out of range", func(a map[string]any) { a["risk_reduction"] = 1.3 }, "recommended_actions[0].risk_reduction 1.3 out of range"},
		{"action confidence out of range", func(a map[string]any) { a["confidence"] = 1.2 }, "recommended_actions[0].confidence 1.2 out of range"},
		{"insufficient evidence", func(a map[string]any) {
			a["action"] = "isolate_entity"
			a["approval_required"] = true
			a["impact_level"] = "high"
			a["priority"] = "HIGH"
			a["confidence"] = 0.9
		}, "isolate_entity marked valid with evidence_count 1 < 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testutil.AdviseResponse("req-1", "c1", endpoint)
			action := resp["recommended_actions"].([]any)[0].(map[string]any)
			tt.mutate(action)

			res := v.ValidateAdviseResponse(ctx, resp, "req-1")
			assert.False(t, res.IsValid)
			require.Len(t, res.Errors, 1, res.Errors)
			assert.Contains(t, res.Errors[0], tt.wantErr)
			assert.Equal(t, CategoryOutputContract, res.Category)
		})
	}
}

func TestValidateAdvise_EvidenceCount(t *testing.T) {
	v := newValidator(t)
	resp := testutil.AdviseResponse("req-1", "c1", endpoint)
	action := resp["recommended_actions"].([]any)[0].(map[string]any)
	action["evidence_count"] = 1.5

	res := v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "recommended_actions[0]: evidence_count 1.5 must be a non-negative integer")

	action["evidence_count"] = 2.0
	res = v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.Equal(t, []string{"recommended_actions[0]: evidence_count 2 does not match 1 evidence_call_ids"}, res.Errors)
}

func TestValidateAdvise_MissingFields(t *testing.T) {
	v := newValidator(t)
	resp := testutil.AdviseResponse("req-1", "c1", endpoint)
	delete(resp, "summary")
	delete(resp["recommended_actions"].([]any)[0].(map[string]any), "blast_radius")

	res := v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 2, res.Errors)
	assert.Contains(t, res.Errors[0]+res.Errors[1], "summary is required")
	assert.Contains(t, res.Errors[0]+res.Errors[1], "blast_radius is required")
}

func TestValidateAdvise_LedgerEvidence(t *testing.T) {
	l, id := recorded(t)
	v := newValidator(t, WithLedger(l))
	resp := testutil.AdviseResponse("req-1", id, endpoint)
	action := resp["recommended_actions"].([]any)[0].(map[string]any)
	action["evidence_call_ids"] = []any{"ghost"}

	res := v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.False(t, res.IsValid)
	assert.Equal(t, CategoryLedgerConsistency, res.Category)
	assert.Equal(t, []string{"recommended_actions[0]: evidence call_id ghost does not resolve in the ledger"}, res.Errors)
}

func TestValidateAdvise_IncompleteChainWarning(t *testing.T) {
	v := newValidator(t)
	resp := testutil.AdviseResponse("req-1", "c1", endpoint)
	chain := resp["evidence_chain"].(map[string]any)
	chain["is_complete"] = false
	chain["event_id"] = ""
	chain["missing_links"] = []any{"event_id"}

	res := v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.True(t, res.IsValid, res.Errors)
	assert.Equal(t, []string{"recommended actions lack a complete evidence chain (missing: event_id)"}, res.Warnings)
}

func TestValidateAdvise_RejectedActionsNotRederived(t *testing.T) {
	v := newValidator(t)
	resp := testutil.AdviseResponse("req-1", "c1", endpoint)
	rejected := testutil.NotifyOwnerAction("c1")
	rejected["action"] = "delete_everything"
	rejected["is_valid"] = false
	rejected["confidence"] = 7.0
	resp["rejected_actions"] = []any{rejected}

	res := v.ValidateAdviseResponse(context.Background(), resp, "req-1")
	assert.True(t, res.IsValid, res.Errors)
}
