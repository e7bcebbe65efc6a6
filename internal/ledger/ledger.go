// Package ledger records every external call made while answering a request.
// A call id is valid evidence iff the ledger still holds its record; the
// ledger is bounded and evicts its oldest record when full.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	verityotel "github.com/dativo-io/verity/internal/otel"
)

var tracer = verityotel.Tracer("github.com/dativo-io/verity/internal/ledger")

// DefaultCapacity is the retention bound when WithCapacity is not given.
const DefaultCapacity = 10000

// Option configures a Ledger.
type Option func(*Ledger)

// WithCapacity sets the retention bound. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithSigner seals every record with s.
func WithSigner(s *Signer) Option {
	return func(l *Ledger) { l.signer = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is a bounded ring of CallRecords plus a call_id index. One mutex
// guards every operation, so it is safe for concurrent use.
type Ledger struct {
	capacity int
	signer   *Signer
	now      func() time.Time

	mu       sync.Mutex
	ring     []CallRecord
	head     int // slot of the next insert, which holds the oldest record when full
	size     int
	index    map[string]int
	recorded uint64
	evicted  uint64
	byStatus map[Status]uint64
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ring = make([]CallRecord, l.capacity)
	l.index = make(map[string]int, l.capacity)
	l.byStatus = make(map[Status]uint64)
	return l
}

// Record appends one call and returns its call id. It never fails: unknown
// statuses are recorded as errors and unmarshalable payloads are digested
// from their Go-syntax form.
func (l *Ledger) Record(ctx context.Context, c Call) string {
	ctx, span := tracer.Start(ctx, "ledger.record")
	defer span.End()

	status := ParseStatus(string(c.Status))
	args := canonicalize(c.Args)
	resp := canonicalize(c.Response)
	if !args.supported || !resp.supported {
		log.Warn().
			Str("endpoint", c.Endpoint).
			Str("request_id", c.RequestID).
			Bool("args_supported", args.supported).
			Bool("response_supported", resp.supported).
			Func(verityotel.LogTraceFields(ctx)).
			Msg("ledger_unsupported_payload")
	}

	rec := CallRecord{
		CallID:          uuid.NewString(),
		Timestamp:       l.now().UTC(),
		Endpoint:        c.Endpoint,
		ArgsHash:        args.digest,
		ResponseHash:    resp.digest,
		Status:          status,
		LatencyMS:       c.Latency.Milliseconds(),
		RedactedArgs:    redact(args.value),
		ResponseSummary: summarize(resp, status),
		RequestID:       c.RequestID,
		UserID:          c.UserID,
		TenantID:        c.TenantID,
	}
	if l.signer != nil {
		if data, err := sealBytes(rec); err == nil {
			rec.Seal = l.signer.Sign(data)
		} else {
			log.Error().Err(err).Str("call_id", rec.CallID).Msg("ledger_seal_failed")
		}
	}

	evicted := l.insert(rec)

	span.SetAttributes(
		attribute.String("ledger.call_id", rec.CallID),
		attribute.String("ledger.endpoint", rec.Endpoint),
		attribute.String("ledger.status", string(status)),
		attribute.Bool("ledger.evicted", evicted),
	)
	recordMetrics(ctx, rec.Endpoint, status, evicted)
	return rec.CallID
}

// insert stores rec and reports whether the oldest record was evicted.
func (l *Ledger) insert(rec CallRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := false
	if l.size == l.capacity {
		delete(l.index, l.ring[l.head].CallID)
		l.evicted++
		evicted = true
	} else {
		l.size++
	}
	l.ring[l.head] = rec
	l.index[rec.CallID] = l.head
	l.head = (l.head + 1) % l.capacity
	l.recorded++
	l.byStatus[rec.Status]++
	return evicted
}

// Get returns the record for callID, if still retained.
func (l *Ledger) Get(callID string) (CallRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.index[callID]
	if !ok {
		return CallRecord{}, false
	}
	return l.ring[slot], true
}

// Has reports whether callID is still retained.
func (l *Ledger) Has(callID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[callID]
	return ok
}

// ForRequest returns the retained records of requestID in append order.
func (l *Ledger) ForRequest(requestID string) []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []CallRecord
	start := (l.head - l.size + l.capacity) % l.capacity
	for i := 0; i < l.size; i++ {
		rec := l.ring[(start+i)%l.capacity]
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out
}

// CallIDsForRequest returns the retained call ids of requestID in append order.
func (l *Ledger) CallIDsForRequest(requestID string) []string {
	recs := l.ForRequest(requestID)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.CallID
	}
	return ids
}

// VerifyCitation reports whether callID is retained and was recorded for
// exactly claimedEndpoint.
func (l *Ledger) VerifyCitation(callID, claimedEndpoint string) bool {
	rec, ok := l.Get(callID)
	return ok && rec.Endpoint == claimedEndpoint
}

// VerifyIntegrity recomputes the seal of callID. It returns false when the
// record is gone, unsealed, or altered.
func (l *Ledger) VerifyIntegrity(callID string) bool {
	if l.signer == nil {
		return false
	}
	rec, ok := l.Get(callID)
	if !ok || rec.Seal == "" {
		return false
	}
	data, err := sealBytes(rec)
	if err != nil {
		return false
	}
	return l.signer.Verify(data, rec.Seal)
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity returns the retention bound.
func (l *Ledger) Capacity() int { return l.capacity }

// Stats returns a consistent snapshot of the ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	byStatus := make(map[Status]uint64, len(l.byStatus))
	for k, v := range l.byStatus {
		byStatus[k] = v
	}
	return Stats{
		Recorded: l.recorded,
		Evicted:  l.evicted,
		Size:     l.size,
		Capacity: l.capacity,
		ByStatus: byStatus,
	}
}
