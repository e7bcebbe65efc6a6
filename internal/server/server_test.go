package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/verity/internal/config"
	"github.com/dativo-io/verity/internal/pipeline"
	"github.com/dativo-io/verity/internal/testutil"
)

const endpoint = "get_risk_findings"

func newTestServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	v, err := pipeline.New(context.Background(), &config.Config{
		LedgerCapacity:  100,
		MaxFieldLength:  config.DefaultMaxFieldLength,
		MinAnswerLength: config.DefaultMinAnswerLength,
		LowConfidence:   config.DefaultLowConfidence,
		SigningKey:      testutil.TestSigningKey,
	})
	require.NoError(t, err)
	opts = append([]Option{WithAPIKeys([]string{testutil.TestAPIKey})}, opts...)
	return NewServer(v, opts...).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testutil.TestAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func recordCall(t *testing.T, h http.Handler, requestID string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/ledger/calls", map[string]any{
		"request_id": requestID,
		"endpoint":   endpoint,
		"args":       map[string]any{"entity_id": "db-1", "api_key": "sk_live_abc123def456ghi789"},
		"response":   map[string]any{"findings": []any{map[string]any{"id": "fnd-1"}}},
		"status":     "success",
		"latency_ms": 42,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["call_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health?detail=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	ledgerInfo, _ := out["ledger"].(map[string]any)
	require.NotNil(t, ledgerInfo)
	assert.Equal(t, float64(100), ledgerInfo["capacity"])
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", testutil.TestOtherAPIKey, http.StatusUnauthorized},
		{"api key header", "X-API-Key", testutil.TestAPIKey, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + testutil.TestAPIKey, http.StatusOK},
		{"bearer wrong", "Authorization", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ledger/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", decode(t, rec)["error"])
			}
		})
	}
}

func TestAuthMiddleware_OpenWithoutKeys(t *testing.T) {
	v, err := pipeline.New(context.Background(), &config.Config{
		LedgerCapacity: 10, MaxFieldLength: 100, LowConfidence: 0.3,
	})
	require.NoError(t, err)
	h := NewServer(v).Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/actions/policies", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newTestServer(t, WithRateLimiter(NewRateLimiter(0, 1)))

	first := do(t, h, http.MethodGet, "/v1/ledger/stats", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, h, http.MethodGet, "/v1/ledger/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode(t, second)["error"])
}

func TestSanitize(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/sanitize", map[string]any{
		"message": "mail bob@corp.io",
		"context": map[string]any{"password": "hunter2", "entity_id": "db-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "mail [EMAIL]", out["message"])
	assert.Equal(t, true, out["is_safe"])
	cx, _ := out["context"].(map[string]any)
	assert.Equal(t, "***REDACTED***", cx["password"])
	assert.Equal(t, "db-1", cx["entity_id"])

	rec = do(t, h, http.MethodPost, "/v1/sanitize", map[string]any{
		"context": map[string]any{"q": "1 UNION SELECT password FROM users"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, false, out["is_safe"])
	assert.Len(t, out["errors"], 1)
}

func TestLedgerRoutes(t *testing.T) {
	h := newTestServer(t)
	id := recordCall(t, h, "req-1")

	rec := do(t, h, http.MethodGet, "/v1/ledger/calls/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["integrity_verified"])
	record, _ := out["record"].(map[string]any)
	require.NotNil(t, record)
	assert.Equal(t, endpoint, record["endpoint"])
	assert.Equal(t, float64(42), record["latency_ms"])
	args, _ := record["redacted_args"].(map[string]any)
	assert.Equal(t, "***REDACTED***", args["api_key"])
	assert.NotContains(t, rec.Body.String(), "fnd-1", "response content is never stored")

	rec = do(t, h, http.MethodGet, "/v1/ledger/requests/req-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["calls"], 1)

	rec = do(t, h, http.MethodGet, "/v1/ledger/requests/req-none", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["calls"])

	rec = do(t, h, http.MethodPost, "/v1/ledger/verify", map[string]any{
		"citations": []any{
			map[string]any{"call_id": id, "endpoint": endpoint},
			map[string]any{"call_id": id, "endpoint": "other"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, false, out["all_verified"])
	results, _ := out["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, true, results[0].(map[string]any)["verified"])
	assert.Equal(t, false, results[1].(map[string]any)["verified"])

	rec = do(t, h, http.MethodGet, "/v1/ledger/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, float64(1), out["recorded"])
	assert.Equal(t, float64(1), out["size"])
}

func TestLedgerRoutes_Errors(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/v1/ledger/calls/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/v1/ledger/calls", map[string]any{"request_id": "req-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/ledger/calls", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/v1/ledger/calls", map[string]any{"request_id": "r", "endpoint": "e", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestPolicies(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/v1/actions/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	policies, _ := decode(t, rec)["policies"].([]any)
	assert.Len(t, policies, 12)
}

func TestValidateAction(t *testing.T) {
	h := newTestServer(t)
	id := recordCall(t, h, "req-1")

	rec := do(t, h, http.MethodPost, "/v1/actions/validate", map[string]any{
		"action": "notify_owner", "target": "db-1", "confidence": 0.5, "evidence_call_ids": []string{id},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_valid"])

	rec = do(t, h, http.MethodPost, "/v1/actions/validate", map[string]any{
		"action": "isolate_entity", "target": "db-1", "confidence": 0.85, "evidence_call_ids": []string{id},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["is_valid"])
	assert.Equal(t, []any{"insufficient evidence for isolate_entity: 1 < 3"}, out["errors"])
}

func TestRecommend(t *testing.T) {
	h := newTestServer(t)
	id := recordCall(t, h, "req-1")

	rec := do(t, h, http.MethodPost, "/v1/actions/recommend", map[string]any{
		"request_id": "req-1",
		"context":    map[string]any{"event_id": "evt-1", "finding_id": "fnd-1"},
		"candidates": []any{
			map[string]any{"action": "notify_owner", "target": "db-1", "reason": "r", "confidence": 0.6, "evidence_call_ids": []string{id}},
			map[string]any{"action": "revoke_access", "target": "db-1", "reason": "r", "confidence": 0.9, "evidence_call_ids": []string{id}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs, _ := decode(t, rec)["recommendations"].([]any)
	require.Len(t, recs, 2)

	first := recs[0].(map[string]any)
	assert.Equal(t, true, first["is_valid"])
	assert.Equal(t, "auto", first["execution"].(map[string]any)["decision"])
	assert.NotNil(t, first["evidence_required"])

	second := recs[1].(map[string]any)
	assert.Equal(t, false, second["is_valid"])
	assert.Equal(t, "refuse", second["execution"].(map[string]any)["decision"])
}

func TestRecommend_UnsafeContext(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/v1/actions/recommend", map[string]any{
		"request_id": "req-1",
		"context":    map[string]any{"event_id": "evt-1'; DROP TABLE events; --"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "input_safety", out["error"])
	assert.Equal(t, "verification failed", out["message"])
	assert.Len(t, out["violations"], 1)

	rec = do(t, h, http.MethodPost, "/v1/actions/recommend", map[string]any{"candidates": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateResponses(t *testing.T) {
	h := newTestServer(t)
	id := recordCall(t, h, "req-1")

	rec := do(t, h, http.MethodPost, "/v1/responses/chat/validate", map[string]any{
		"request_id": "req-1",
		"response":   testutil.ChatResponse("req-1", id, endpoint),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_valid"])

	bad := testutil.ChatResponse("req-1", id, endpoint)
	bad["confidence"] = 1.4
	rec = do(t, h, http.MethodPost, "/v1/responses/chat/validate", map[string]any{"request_id": "req-1", "response": bad})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["is_valid"])
	assert.Equal(t, "output_contract", out["category"])
	assert.Len(t, out["errors"], 1)

	rec = do(t, h, http.MethodPost, "/v1/responses/advise/validate", map[string]any{
		"request_id": "req-1",
		"response":   testutil.AdviseResponse("req-1", id, endpoint),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_valid"])

	rec = do(t, h, http.MethodPost, "/v1/responses/advise/validate", map[string]any{"request_id": "req-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWritePipelineError(t *testing.T) {
	tests := []struct {
		category pipeline.Category
		want     int
	}{
		{pipeline.CategoryInputSafety, http.StatusUnprocessableEntity},
		{pipeline.CategoryOutputContract, http.StatusUnprocessableEntity},
		{pipeline.CategoryPolicyViolation, http.StatusForbidden},
		{pipeline.CategoryLedgerConsistency, http.StatusConflict},
		{pipeline.CategoryInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writePipelineError(rec, &pipeline.Error{Category: tt.category, Violations: []string{"x"}})
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, string(tt.category), decode(t, rec)["error"])
		})
	}

	rec := httptest.NewRecorder()
	writePipelineError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
