// Package policy is the action safety gate: a closed set of action kinds, a
// static policy per kind, and validation of candidate actions against it.
package policy

import "sort"

// ActionKind is one allow-listed remediation action. The set is closed:
// every constant below has exactly one entry in actionPolicies.
type ActionKind string

const (
	KindIsolateEntity      ActionKind = "isolate_entity"
	KindRevokeAccess       ActionKind = "revoke_access"
	KindRotateCredentials  ActionKind = "rotate_credentials"
	KindDisableAccount     ActionKind = "disable_account"
	KindBlockIP            ActionKind = "block_ip"
	KindQuarantineFile     ActionKind = "quarantine_file"
	KindEnableMFA          ActionKind = "enable_mfa"
	KindNotifyOwner        ActionKind = "notify_owner"
	KindCreateTicket       ActionKind = "create_ticket"
	KindApplyPatch         ActionKind = "apply_patch"
	KindSegmentNetwork     ActionKind = "segment_network"
	KindIncreaseMonitoring ActionKind = "increase_monitoring"
)

// ImpactLevel is the declared severity of an action's effect.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// BlastRadius is the declared scope of an action's effect.
type BlastRadius string

const (
	BlastEntityOnly BlastRadius = "entity_only"
	BlastSegment    BlastRadius = "segment"
	BlastOrgWide    BlastRadius = "org_wide"
)

// Priority orders recommendations for the caller.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities, impact levels and blast radii in ascending order.
var (
	Priorities   = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	ImpactLevels = []ImpactLevel{ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical}
	BlastRadii   = []BlastRadius{BlastEntityOnly, BlastSegment, BlastOrgWide}
)

// ActionPolicy governs one action kind.
type ActionPolicy struct {
	Kind             ActionKind  `json:"action" yaml:"action"`
	ImpactLevel      ImpactLevel `json:"impact_level" yaml:"impact_level"`
	BlastRadius      BlastRadius `json:"blast_radius" yaml:"blast_radius"`
	RequiresApproval bool        `json:"requires_approval" yaml:"requires_approval"`
	MinEvidenceCount int         `json:"min_evidence_count" yaml:"min_evidence_count"`
	MinConfidence    float64     `json:"min_confidence" yaml:"min_confidence"`
	AutoExecutable   bool        `json:"auto_executable" yaml:"auto_executable"`
}

var actionPolicies = map[ActionKind]ActionPolicy{
	KindIsolateEntity:      {KindIsolateEntity, ImpactHigh, BlastEntityOnly, true, 3, 0.8, false},
	KindRevokeAccess:       {KindRevokeAccess, ImpactHigh, BlastEntityOnly, true, 2, 0.75, false},
	KindRotateCredentials:  {KindRotateCredentials, ImpactMedium, BlastEntityOnly, false, 2, 0.7, true},
	KindDisableAccount:     {KindDisableAccount, ImpactHigh, BlastEntityOnly, true, 2, 0.8, false},
	KindBlockIP:            {KindBlockIP, ImpactMedium, BlastSegment, false, 1, 0.7, true},
	KindQuarantineFile:     {KindQuarantineFile, ImpactMedium, BlastEntityOnly, false, 1, 0.6, true},
	KindEnableMFA:          {KindEnableMFA, ImpactLow, BlastEntityOnly, false, 1, 0.5, true},
	KindNotifyOwner:        {KindNotifyOwner, ImpactLow, BlastEntityOnly, false, 1, 0.3, true},
	KindCreateTicket:       {KindCreateTicket, ImpactLow, BlastEntityOnly, false, 0, 0.0, true},
	KindApplyPatch:         {KindApplyPatch, ImpactMedium, BlastSegment, true, 2, 0.7, false},
	KindSegmentNetwork:     {KindSegmentNetwork, ImpactCritical, BlastSegment, true, 3, 0.85, false},
	KindIncreaseMonitoring: {KindIncreaseMonitoring, ImpactLow, BlastSegment, false, 1, 0.4, true},
}

// restrictive is what an unlisted kind resolves to.
var restrictive = ActionPolicy{
	ImpactLevel:      ImpactCritical,
	BlastRadius:      BlastOrgWide,
	RequiresApproval: true,
	MinEvidenceCount: 0,
	MinConfidence:    1,
	AutoExecutable:   false,
}

// Lookup returns the policy for kind.
func Lookup(kind string) (ActionPolicy, bool) {
	p, ok := actionPolicies[ActionKind(kind)]
	return p, ok
}

// Valid reports whether k is allow-listed.
func (k ActionKind) Valid() bool {
	_, ok := actionPolicies[k]
	return ok
}

// Policies returns every allow-listed policy sorted by kind.
func Policies() []ActionPolicy {
	out := make([]ActionPolicy, 0, len(actionPolicies))
	for _, p := range actionPolicies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ValidPriority reports whether p is one of the four priorities.
func ValidPriority(p string) bool {
	for _, known := range Priorities {
		if string(known) == p {
			return true
		}
	}
	return false
}

// PriorityForImpact is the default priority of an action with the given impact.
func PriorityForImpact(impact ImpactLevel) Priority {
	switch impact {
	case ImpactLow:
		return PriorityLow
	case ImpactMedium:
		return PriorityMedium
	case ImpactHigh:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}
