package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/verity/internal/ledger"
	"github.com/dativo-io/verity/internal/pipeline"
	"github.com/dativo-io/verity/internal/policy"
	"github.com/dativo-io/verity/internal/requestctx"
	"github.com/dativo-io/verity/internal/tree"
)

// decodeJSON decodes the request body into dst and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		l := s.verifier.Ledger()
		resp["ledger"] = map[string]int{"size": l.Len(), "capacity": l.Capacity()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sanitizeRequest struct {
	Message string     `json:"message"`
	Context tree.Value `json:"context"`
}

type sanitizeResponse struct {
	Message        string     `json:"message"`
	Context        tree.Value `json:"context"`
	RedactedFields []string   `json:"redacted_fields"`
	Errors         []string   `json:"errors"`
	IsSafe         bool       `json:"is_safe"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	san := s.verifier.Sanitizer()
	cx := san.SanitizeContext(r.Context(), req.Context)
	msg := san.SanitizeMessage(r.Context(), req.Message)
	message, _ := msg.Sanitized.Str()

	resp := sanitizeResponse{
		Message:        message,
		Context:        cx.Sanitized,
		RedactedFields: append(append([]string{}, msg.RedactedFields...), cx.RedactedFields...),
		Errors:         append(append([]string{}, msg.Errors...), cx.Errors...),
		IsSafe:         msg.IsSafe && cx.IsSafe,
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordCallRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Endpoint  string `json:"endpoint"`
	Args      any    `json:"args"`
	Response  any    `json:"response"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

func (s *Server) handleRecordCall(w http.ResponseWriter, r *http.Request) {
	var req recordCallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RequestID == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id and endpoint are required")
		return
	}
	id := s.verifier.Ledger().Record(requestctx.SetRequestID(r.Context(), req.RequestID), ledger.Call{
		Endpoint:  req.Endpoint,
		Args:      req.Args,
		Response:  req.Response,
		Status:    ledger.ParseStatus(req.Status),
		Latency:   time.Duration(req.LatencyMS) * time.Millisecond,
		RequestID: req.RequestID,
		UserID:    req.UserID,
		TenantID:  req.TenantID,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"call_id": id})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "callID")
	rec, ok := s.verifier.Ledger().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "call_id does not resolve in the ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":             rec,
		"integrity_verified": s.verifier.Ledger().VerifyIntegrity(id),
	})
}

func (s *Server) handleRequestCalls(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	calls := s.verifier.Ledger().ForRequest(requestID)
	if calls == nil {
		calls = []ledger.CallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "calls": calls})
}

type citationResult struct {
	pipeline.Citation
	Verified bool `json:"verified"`
}

func (s *Server) handleVerifyCitations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Citations []pipeline.Citation `json:"citations"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	results := make([]citationResult, len(req.Citations))
	all := true
	for i, c := range req.Citations {
		ok := s.verifier.Ledger().VerifyCitation(c.CallID, c.Endpoint)
		results[i] = citationResult{Citation: c, Verified: ok}
		all = all && ok
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "all_verified": all})
}

func (s *Server) handleLedgerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.verifier.Ledger().Stats())
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": policy.Policies()})
}

type validateActionRequest struct {
	Action          string   `json:"action"`
	Target          string   `json:"target"`
	Confidence      float64  `json:"confidence"`
	EvidenceCallIDs []string `json:"evidence_call_ids"`
}

func (s *Server) handleValidateAction(w http.ResponseWriter, r *http.Request) {
	var req validateActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	verdict := s.verifier.Gate().Validate(r.Context(), req.Action, req.Target, req.Confidence, req.EvidenceCallIDs)
	writeJSON(w, http.StatusOK, verdict)
}

type recommendRequest struct {
	RequestID  string             `json:"request_id"`
	UserID     string             `json:"user_id"`
	TenantID   string             `json:"tenant_id"`
	Context    tree.Value         `json:"context"`
	Candidates []policy.Candidate `json:"candidates"`
}

type decidedRecommendation struct {
	policy.Recommendation
	Execution policy.ExecutionDecision `json:"execution"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	vreq, err := s.verifier.Begin(r.Context(), pipeline.RequestInput{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		TenantID:  req.TenantID,
		Context:   req.Context,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	recs := vreq.Recommend(r.Context(), req.Candidates)
	out := make([]decidedRecommendation, len(recs))
	for i, rec := range recs {
		// A refusal is reported in the decision itself.
		d, _ := s.verifier.Decide(r.Context(), rec)
		out[i] = decidedRecommendation{Recommendation: rec, Execution: d}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":      vreq.ID,
		"recommendations": out,
	})
}

type validateResponseRequest struct {
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

func (s *Server) handleValidateChat(w http.ResponseWriter, r *http.Request) {
	s.validateResponse(w, r, "chat")
}

func (s *Server) handleValidateAdvise(w http.ResponseWriter, r *http.Request) {
	s.validateResponse(w, r, "advise")
}

func (s *Server) validateResponse(w http.ResponseWriter, r *http.Request, kind string) {
	var req validateResponseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RequestID == "" || len(req.Response) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id and response are required")
		return
	}
	v := s.verifier.Validator()
	validate := v.ValidateChatJSON
	if kind == "advise" {
		validate = v.ValidateAdviseJSON
	}
	res := validate(r.Context(), req.Response, req.RequestID)
	log.Debug().
		Str("request_id", req.RequestID).
		Str("kind", kind).
		Bool("valid", res.IsValid).
		Msg("response_validated")
	writeJSON(w, http.StatusOK, res)
}
