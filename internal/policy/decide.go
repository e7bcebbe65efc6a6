package policy

import (
	"fmt"
	"strings"
)

// Decision tells an executor how it may run a recommendation.
type Decision string

const (
	DecisionRefuse  Decision = "refuse"
	DecisionConfirm Decision = "confirm"
	DecisionAuto    Decision = "auto"
)

// ExecutionDecision is a Decision plus the reasons behind it.
type ExecutionDecision struct {
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons"`
}

// Decide maps a recommendation to refuse, confirm or auto. unresolved lists
// the recommendation's evidence call ids that no longer resolve; any entry
// forces a refusal. A recommendation with no evidence chain attached is
// never auto-executed.
func Decide(rec Recommendation, unresolved []string) ExecutionDecision {
	if !rec.IsValid {
		return ExecutionDecision{Decision: DecisionRefuse, Reasons: append([]string{"recommendation failed validation"}, rec.ValidationErrors...)}
	}
	if len(unresolved) > 0 {
		return ExecutionDecision{Decision: DecisionRefuse, Reasons: []string{
			fmt.Sprintf("evidence no longer resolves: %s", strings.Join(unresolved, ", ")),
		}}
	}
	pol, ok := Lookup(rec.Action)
	if !ok {
		return ExecutionDecision{Decision: DecisionRefuse, Reasons: []string{fmt.Sprintf("action %q is not in the allow-list", rec.Action)}}
	}

	var reasons []string
	if rec.ApprovalRequired || pol.RequiresApproval {
		reasons = append(reasons, "action requires approval")
	}
	if !pol.AutoExecutable {
		reasons = append(reasons, "action is not auto-executable")
	}
	if rec.EvidenceRequired == nil {
		reasons = append(reasons, "no evidence chain attached")
	}
	if len(reasons) > 0 {
		return ExecutionDecision{Decision: DecisionConfirm, Reasons: reasons}
	}
	return ExecutionDecision{Decision: DecisionAuto, Reasons: []string{}}
}
