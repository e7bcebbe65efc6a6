package testutil

// Response fixtures shaped like decoded JSON (numbers are float64, lists are
// []any) so they exercise the same paths as payloads read off the wire.

// ChatResponse returns a complete, valid chat response citing one call.
func ChatResponse(requestID, callID, endpoint string) map[string]any {
	return map[string]any{
		"request_id": requestID,
		"answer":     "Entity db-1 has three open critical findings on port 5432.",
		"confidence": 0.82,
		"citations": []any{
			map[string]any{"call_id": callID, "endpoint": endpoint},
		},
		"sources": []any{
			map[string]any{"name": endpoint, "type": "api", "call_id": callID},
		},
		"data_dependencies": []any{
			map[string]any{"endpoint": endpoint, "call_id": callID, "status": "success"},
		},
		"evidence_chain": EvidenceChain(requestID, callID),
	}
}

// AdviseResponse returns a complete, valid advise response whose single
// notify_owner action cites one call.
func AdviseResponse(requestID, callID, endpoint string) map[string]any {
	return map[string]any{
		"request_id": requestID,
		"summary":    "Notify the owner of db-1 about the exposed admin port.",
		"confidence": 0.74,
		"recommended_actions": []any{
			NotifyOwnerAction(callID),
		},
		"citations": []any{
			map[string]any{"call_id": callID, "endpoint": endpoint},
		},
		"evidence_chain": EvidenceChain(requestID, callID),
	}
}

// EvidenceChain returns a complete evidence chain over callIDs.
func EvidenceChain(requestID string, callIDs ...string) map[string]any {
	ids := make([]any, len(callIDs))
	for i, id := range callIDs {
		ids[i] = id
	}
	return map[string]any{
		"request_id":     requestID,
		"event_id":       "evt-1",
		"finding_id":     "fnd-1",
		"correlation_id": "corr-1",
		"call_ids":       ids,
		"is_complete":    true,
		"missing_links":  []any{},
	}
}

// NotifyOwnerAction returns a valid notify_owner action citing callID.
func NotifyOwnerAction(callID string) map[string]any {
	return map[string]any{
		"action":            "notify_owner",
		"target":            "db-1",
		"reason":            "Admin port exposed to the internet",
		"risk_reduction":    0.2,
		"confidence":        0.74,
		"priority":          "LOW",
		"approval_required": false,
		"blast_radius":      "entity_only",
		"impact_level":      "low",
		"evidence_count":    1.0,
		"evidence_call_ids": []any{callID},
		"is_valid":          true,
		"validation_errors": []any{},
	}
}
