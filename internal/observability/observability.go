// Package observability implements the Observability Emitter: one
// structured event per invocation, decision-tagged, with caller-supplied
// key/value pairs. The observability sink is treated as opaque; this
// package is the interface the core consumes plus one concrete binding to
// Honeycomb via github.com/honeycombio/libhoney-go.
package observability

import (
	"time"

	"github.com/google/uuid"
	"github.com/honeycombio/libhoney-go"
)

// Decision is the outcome recorded on every event.
type Decision string

const (
	DecisionHit             Decision = "hit"
	DecisionMiss            Decision = "miss"
	DecisionPlaceboMatch    Decision = "placebo-match"
	DecisionPlaceboMismatch Decision = "placebo-mismatch"
	DecisionPassive         Decision = "passive"
	DecisionError           Decision = "error"
)

// Event is one structured record describing a single capsule invocation.
type Event struct {
	CapsuleID  string
	InputsHash string
	Decision   Decision
	SourceJob  string
	Duration   time.Duration
	Fields     map[string]string // Caller-supplied key/value pairs (--honeycomb_kv)
}

// Emitter is the interface the orchestrator consumes. Emission failures
// must never fail the build: implementations swallow their
// own errors rather than returning them.
type Emitter interface {
	Emit(e Event)
}

// Noop discards every event. Used when no Honeycomb dataset/token is
// configured.
type Noop struct{}

// Emit implements Emitter for Noop.
func (Noop) Emit(Event) {}

// HoneycombConfig configures the Honeycomb emitter.
type HoneycombConfig struct {
	Dataset  string
	Token    string
	TraceID  string // Defaults to a fresh UUID if empty
	ParentID string
}

// Honeycomb emits one libhoney event per invocation.
type Honeycomb struct {
	builder  *libhoney.Builder
	traceID  string
	parentID string
}

// NewHoneycomb initializes libhoney with the given dataset/token and
// returns an Emitter bound to it. Closing the process-wide libhoney client
// is the caller's responsibility (Close below).
func NewHoneycomb(cfg HoneycombConfig) (*Honeycomb, error) {
	if err := libhoney.Init(libhoney.Config{
		WriteKey: cfg.Token,
		Dataset:  cfg.Dataset,
	}); err != nil {
		return nil, err
	}

	traceID := cfg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return &Honeycomb{
		builder:  libhoney.NewBuilder(),
		traceID:  traceID,
		parentID: cfg.ParentID,
	}, nil
}

// Close flushes and shuts down the underlying libhoney client.
func (h *Honeycomb) Close() {
	libhoney.Close()
}

// Emit sends one event to Honeycomb. Any send failure is
// swallowed — observability must never fail the build — so Emit has no
// return value for the caller to mishandle.
func (h *Honeycomb) Emit(e Event) {
	ev := h.builder.NewEvent()
	ev.AddField("capsule_id", e.CapsuleID)
	ev.AddField("inputs_hash", e.InputsHash)
	ev.AddField("decision", string(e.Decision))
	ev.AddField("source_job", e.SourceJob)
	ev.AddField("duration_ms", e.Duration.Milliseconds())
	ev.AddField("trace.trace_id", h.traceID)
	if h.parentID != "" {
		ev.AddField("trace.parent_id", h.parentID)
	}
	for k, v := range e.Fields {
		ev.AddField(k, v)
	}

	// Best-effort: libhoney buffers and retries internally; a Send error
	// here means the event is simply dropped, which is the correct
	// behaviour for a sink the build must never depend on.
	_ = ev.Send()
}
