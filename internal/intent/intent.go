// Package intent turns the raw intents a machine turn buffers
// (chartruntime.Intent — just a type and a data payload) into fully
// contract-validated outbound events: the Emittable Event Factory. It
// resolves each intent's target contract, stamps dataschema/source/
// subject/traceparent/accesscontrol/executionunits, synthesizes nested
// subjects for intents routed to another orchestrator, and routes
// completion intents back to a parent subject.
package intent

import (
	"context"
	"fmt"

	"github.com/fenwick-io/machina/internal/arvoevent"
	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
	"github.com/fenwick-io/machina/internal/platform/tracectx"
	"github.com/fenwick-io/machina/internal/subject"
	"github.com/fenwick-io/machina/internal/violation"
)

// Inputs bundles everything a turn's Emit call needs beyond the raw
// intent list.
type Inputs struct {
	Machine        *machine.Machine
	Subject        string // the subject this turn executed under
	Initiator      string // the initiator recorded on the originating event
	ParentSubject  string // non-empty only when this orchestration was itself nested
	ExecutionUnits float64
	AccessControl  string
	Strict         bool // EMIT_UNCONTRACTED enforcement; see config.Strict
}

// Buffer turns buffered intents into validated outbound events. It is
// not safe for concurrent use by multiple turns of the same subject —
// callers already serialize turns via the memory-store lock.
type Buffer struct{}

// New constructs a Buffer. It carries no state of its own today; the
// constructor exists so call sites read the same way as this module's
// other component factories and so a future caching layer (e.g.
// memoizing dataschema string construction) has somewhere to live.
func New() *Buffer {
	return &Buffer{}
}

// Emit converts intents into Events, in order, first-error-wins: once
// any intent fails to route or validate, Emit stops and returns that
// single error rather than a partial result plus a list of failures —
// a turn either fully emits or fully fails.
func (b *Buffer) Emit(ctx context.Context, in Inputs, intents []chartruntime.Intent) ([]arvoevent.Event, error) {
	trace := tracectx.FromContext(ctx)
	if trace == nil {
		trace = tracectx.FromSpanContext(ctx)
	}

	out := make([]arvoevent.Event, 0, len(intents))
	for _, it := range intents {
		ev, err := b.route(in, trace, it)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (b *Buffer) route(in Inputs, trace *tracectx.TraceData, it chartruntime.Intent) (arvoevent.Event, error) {
	self := in.Machine.Self

	// Step 1: a completion intent — its type matches the self-contract's
	// distinguished complete event type — routes to the parent subject
	// when this orchestration is nested, or stays on this turn's own
	// subject when it is top-level.
	if self != nil && self.CompleteEventType != "" && it.Type == self.CompleteEventType {
		target := in.ParentSubject
		if target == "" {
			target = in.Subject
		}
		return b.build(in, trace, self, self.Emits[it.Type], it, target)
	}

	// Step 2: a service-contract intent. Find the service contract whose
	// accept type matches — the intent is addressed to that service as
	// its input, not something the service itself emits.
	svc := findRecipient(in.Machine, it.Type)
	if svc == nil {
		if in.Strict {
			return arvoevent.Event{}, violation.NewWorkflowError("EMIT_UNCONTRACTED", "intent.route",
				fmt.Errorf("no contract accepts event type %q", it.Type))
		}
		return b.buildUncontracted(in, trace, it), nil
	}

	targetSubject := in.Subject
	if svc.IsOrchestrator() {
		nested, err := subject.From(in.Subject, svc.URI, svc.Version, in.Initiator)
		if err != nil {
			return arvoevent.Event{}, violation.NewExecutionViolation("BAD_SUBJECT", "intent.route", err)
		}
		targetSubject = nested
	}
	return b.build(in, trace, svc, svc.Accepts.Schema, it, targetSubject)
}

func (b *Buffer) build(in Inputs, trace *tracectx.TraceData, c *contract.Contract, schema contract.Schema, it chartruntime.Intent, targetSubject string) (arvoevent.Event, error) {
	if schema != nil {
		if err := schema.Validate(it.Data); err != nil {
			return arvoevent.Event{}, violation.NewWorkflowError("DATASCHEMA_MISMATCH", "intent.build", err)
		}
	}
	ev := arvoevent.Event{
		ID:             arvoevent.NewID(),
		Type:           it.Type,
		Source:         in.Machine.Source,
		Subject:        targetSubject,
		Data:           it.Data,
		DataSchema:     c.DataSchemaURI(),
		AccessControl:  in.AccessControl,
		ExecutionUnits: in.ExecutionUnits,
	}
	if trace != nil {
		ev.Traceparent = trace.Traceparent
		ev.Tracestate = trace.Tracestate
	}
	return ev, nil
}

// buildUncontracted emits an intent that matched no known contract, for
// non-strict deployments. No dataschema is stamped since none applies.
func (b *Buffer) buildUncontracted(in Inputs, trace *tracectx.TraceData, it chartruntime.Intent) arvoevent.Event {
	ev := arvoevent.Event{
		ID:             arvoevent.NewID(),
		Type:           it.Type,
		Source:         in.Machine.Source,
		Subject:        in.Subject,
		Data:           it.Data,
		AccessControl:  in.AccessControl,
		ExecutionUnits: in.ExecutionUnits,
	}
	if trace != nil {
		ev.Traceparent = trace.Traceparent
		ev.Tracestate = trace.Tracestate
	}
	return ev
}

func findRecipient(m *machine.Machine, eventType string) *contract.Contract {
	for _, svc := range m.Services {
		if svc == nil {
			continue
		}
		if svc.Accepts.Type == eventType {
			return svc
		}
	}
	return nil
}
