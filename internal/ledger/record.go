package ledger

import (
	"time"

	"github.com/dativo-io/verity/internal/tree"
)

// Status is the outcome of one external call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// ParseStatus maps s onto a known status. Anything unrecognized is recorded
// as an error so a bad status can never read as success.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusSuccess, StatusError, StatusTimeout:
		return Status(s)
	default:
		return StatusError
	}
}

// Call is the input to Record: one external call made while answering a request.
type Call struct {
	Endpoint  string
	Args      any
	Response  any
	Status    Status
	Latency   time.Duration
	RequestID string
	UserID    string
	TenantID  string
}

// ResponseSummary describes a response without retaining its content.
type ResponseSummary struct {
	Type      string `json:"type"`
	SizeBytes int    `json:"size_bytes"`
	ItemCount int    `json:"item_count"`
	Status    Status `json:"status"`
}

// CallRecord is the immutable ledger entry for one external call.
type CallRecord struct {
	CallID          string          `json:"call_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Endpoint        string          `json:"endpoint"`
	ArgsHash        string          `json:"args_hash"`
	ResponseHash    string          `json:"response_hash"`
	Status          Status          `json:"status"`
	LatencyMS       int64           `json:"latency_ms"`
	RedactedArgs    tree.Value      `json:"redacted_args"`
	ResponseSummary ResponseSummary `json:"response_summary"`
	RequestID       string          `json:"request_id"`
	UserID          string          `json:"user_id,omitempty"`
	TenantID        string          `json:"tenant_id,omitempty"`
	Seal            string          `json:"seal,omitempty"`
}

// Stats is a point-in-time view of ledger counters.
type Stats struct {
	Recorded uint64            `json:"recorded"`
	Evicted  uint64            `json:"evicted"`
	Size     int               `json:"size"`
	Capacity int               `json:"capacity"`
	ByStatus map[Status]uint64 `json:"by_status"`
}
