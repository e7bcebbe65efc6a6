package validator

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/dativo-io/verity/internal/policy"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	adviseActionsFile  = "rego/advise_actions.rego"
	adviseActionsQuery = "data.verity.validator.advise_actions.deny"
)

// policyData renders the static policy table as OPA data. It goes through
// JSON so the store holds plain JSON values.
func policyData() (map[string]any, error) {
	table := make(map[string]policy.ActionPolicy)
	for _, p := range policy.Policies() {
		table[string(p.Kind)] = p
	}
	raw, err := json.Marshal(map[string]any{
		"policies":      table,
		"priorities":    policy.Priorities,
		"blast_radii":   policy.BlastRadii,
		"impact_levels": policy.ImpactLevels,
	})
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func prepareActionsQuery(ctx context.Context) (rego.PreparedEvalQuery, error) {
	content, err := embeddedPolicies.ReadFile(adviseActionsFile)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("reading embedded policy %s: %w", adviseActionsFile, err)
	}
	data, err := policyData()
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("converting policy table to OPA data: %w", err)
	}

	r := rego.New(
		rego.Query(adviseActionsQuery),
		rego.Module(adviseActionsFile, string(content)),
		rego.Store(inmem.NewFromObject(data)),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("preparing Rego policy %s: %w", adviseActionsFile, err)
	}
	return pq, nil
}

// evaluateDenyReasons runs a prepared deny-set query and returns its
// messages sorted, since OPA sets carry no order.
func evaluateDenyReasons(ctx context.Context, pq rego.PreparedEvalQuery, input map[string]any) ([]string, error) {
	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", adviseActionsQuery, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// A deny set comes back as []interface{} or, occasionally, map[string]interface{}.
	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []any:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case map[string]any:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}
