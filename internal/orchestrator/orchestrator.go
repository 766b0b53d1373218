// Package orchestrator implements the Orchestrator Controller: the
// per-event transactional pipeline that locks a subject, reads its prior
// state, resolves and runs one machine turn, emits the resulting
// intents as validated events, persists the new state, and unlocks —
// short-circuiting to error handling the moment any step fails.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fenwick-io/machina/internal/arvoevent"
	"github.com/fenwick-io/machina/internal/config"
	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/engine"
	"github.com/fenwick-io/machina/internal/intent"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/memory"
	"github.com/fenwick-io/machina/internal/platform/logger"
	"github.com/fenwick-io/machina/internal/registry"
	"github.com/fenwick-io/machina/internal/snapshot"
	"github.com/fenwick-io/machina/internal/subject"
	"github.com/fenwick-io/machina/internal/violation"
)

// Phase names one step of a turn, surfaced in logs so a stuck or failed
// turn can be pinpointed without instrumenting every call site.
type Phase string

const (
	PhaseReady            Phase = "READY"
	PhaseLockAcquiring    Phase = "LOCK_ACQUIRING"
	PhaseStateReading     Phase = "STATE_READING"
	PhaseMachineResolving Phase = "MACHINE_RESOLVING"
	PhaseInputValidating  Phase = "INPUT_VALIDATING"
	PhaseExecuting        Phase = "EXECUTING"
	PhaseEmitting         Phase = "EMITTING"
	PhasePersisting       Phase = "PERSISTING"
	PhaseUnlocking        Phase = "UNLOCKING"
	PhaseErrorHandling    Phase = "ERROR_HANDLING"
	PhaseDone             Phase = "DONE"
)

// Controller runs one event at a time through the turn pipeline.
type Controller struct {
	Registry *registry.Registry
	Memory   memory.Memory
	Engine   *engine.Engine
	Intents  *intent.Buffer
	Config   config.Config
	Log      *logger.Logger
}

// CreateOrchestrator builds a Controller from its collaborators. It is
// the one entry point every caller (an HTTP handler, a queue consumer, a
// test) is expected to construct a Controller through.
func CreateOrchestrator(reg *registry.Registry, mem memory.Memory, cfg config.Config, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		Registry: reg,
		Memory:   mem,
		Engine:   engine.New(),
		Intents:  intent.New(),
		Config:   cfg,
		Log:      log.With("component", "orchestrator"),
	}
}

// Execute runs ev through the full turn pipeline and returns the events
// it produced. A soft failure (WorkflowError, or lock contention under
// the default policy) is never returned as a Go error — it is converted
// to a single system-error event addressed to the subject's initiator
// and returned as this call's only event. A hard failure (Violation) is
// returned as an error and produces no events. An event that safely
// requires no action (a misrouted subject, a stray event with no prior
// state and no matching init type) returns (nil, nil).
func (c *Controller) Execute(ctx context.Context, ev *arvoevent.Event) ([]arvoevent.Event, error) {
	log := c.Log.With("subject", ev.Subject, "type", ev.Type)
	log.Debug("turn starting", "phase", PhaseReady)

	sub, err := subject.Parse(ev.Subject)
	if err != nil {
		return nil, violation.NewExecutionViolation("BAD_SUBJECT", "orchestrator.Execute", err)
	}

	if sub.Orchestrator.Name != c.Registry.Source() {
		log.Debug("safe ignore: subject addressed to a different orchestrator", "phase", PhaseMachineResolving)
		return nil, nil
	}

	locked, err := c.lock(ctx, ev.Subject)
	if err != nil {
		return nil, err
	}
	if !locked {
		log.Info("lock contention, soft-failing turn", "phase", PhaseLockAcquiring)
		return c.systemErrorEvent(ev, sub, violation.NewWorkflowError("LOCK_UNACQUIRED", "orchestrator.lock", fmt.Errorf("subject is locked"))), nil
	}
	defer c.unlock(ctx, ev.Subject, log)

	rec, err := c.Memory.Read(ctx, ev.Subject)
	if err != nil {
		return nil, violation.NewTransactionViolation(violation.CauseReadFailure, "orchestrator.read", err)
	}

	m, err := c.Registry.Resolve(ev)
	if err != nil {
		return nil, err
	}

	prevSnapshot, err := decodeSnapshot(rec)
	if err != nil {
		return nil, violation.NewExecutionViolation("BAD_INIT", "orchestrator.decode", err)
	}

	if prevSnapshot == nil {
		if m.Self == nil || ev.Type != m.Self.Accepts.Type {
			log.Debug("safe ignore: no prior state and event does not initiate", "phase", PhaseInputValidating)
			return nil, nil
		}
	}

	if err := c.validateInput(m, ev); err != nil {
		return c.systemErrorEvent(ev, sub, err), nil
	}

	result, err := c.Engine.Execute(ctx, engine.Input{Machine: m, Snapshot: prevSnapshot, Event: ev})
	if err != nil {
		switch err.(type) {
		case *violation.WorkflowError:
			return c.systemErrorEvent(ev, sub, err), nil
		default:
			return nil, err
		}
	}

	events, err := c.emit(ctx, m, sub, ev, rec, result)
	if err != nil {
		switch err.(type) {
		case *violation.WorkflowError:
			return c.systemErrorEvent(ev, sub, err), nil
		default:
			return nil, err
		}
	}

	if err := c.persist(ctx, ev.Subject, m, sub, ev, rec, result); err != nil {
		return nil, err
	}

	log.Debug("turn complete", "phase", PhaseDone, "eventsProduced", len(events))
	return events, nil
}

func (c *Controller) lock(ctx context.Context, sub string) (bool, error) {
	if c.Memory == nil || !c.Registry.RequiresResourceLocking() {
		return true, nil
	}
	ok, err := c.Memory.Lock(ctx, sub)
	if err != nil {
		return false, violation.NewTransactionViolation(violation.CauseLockFailure, "orchestrator.lock", err)
	}
	return ok, nil
}

func (c *Controller) unlock(ctx context.Context, sub string, log *logger.Logger) {
	if c.Memory == nil {
		return
	}
	if err := c.Memory.Unlock(ctx, sub); err != nil {
		log.Warn("unlock failed", "phase", PhaseUnlocking, "error", err.Error())
	}
}

func (c *Controller) validateInput(m *machine.Machine, ev *arvoevent.Event) error {
	if m.Self == nil {
		return violation.NewWorkflowError("CONTRACT_UNRESOLVED", "orchestrator.validateInput", fmt.Errorf("machine has no self contract"))
	}
	if ev.Type != m.Self.Accepts.Type {
		// Not the init event: delivered to the chart without self-contract
		// checks, since it answers an earlier turn rather than starting one.
		return nil
	}
	if m.Self.Accepts.Schema != nil {
		if err := m.Self.Accepts.Schema.Validate(ev.Data); err != nil {
			return violation.NewWorkflowError("INVALID_DATA", "orchestrator.validateInput", err)
		}
	}
	if ev.DataSchema != "" && ev.DataSchema != m.Self.DataSchemaURI() {
		return violation.NewWorkflowError("DATASCHEMA_MISMATCH", "orchestrator.validateInput", fmt.Errorf("event dataschema %q does not match %q", ev.DataSchema, m.Self.DataSchemaURI()))
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, m *machine.Machine, sub *subject.Subject, ev *arvoevent.Event, rec *memory.Record, result engine.Result) ([]arvoevent.Event, error) {
	parent := sub.Meta.ParentSubject
	if parent == "" && rec != nil {
		parent = rec.ParentSubject
	}
	in := intent.Inputs{
		Machine:        m,
		Subject:        ev.Subject,
		Initiator:      sub.Initiator,
		ParentSubject:  parent,
		ExecutionUnits: c.Config.ExecutionUnits,
		AccessControl:  ev.AccessControl,
		Strict:         c.Config.Strict,
	}
	return c.Intents.Emit(ctx, in, result.Intents)
}

func (c *Controller) persist(ctx context.Context, sub string, m *machine.Machine, parsed *subject.Subject, ev *arvoevent.Event, prev *memory.Record, result engine.Result) error {
	if c.Memory == nil {
		return nil
	}
	wire, err := snapshot.Encode(result.Snapshot)
	if err != nil {
		return violation.NewExecutionViolation("BAD_INIT", "orchestrator.persist", err)
	}
	rec := &memory.Record{
		Subject:        sub,
		ParentSubject:  parsed.Meta.ParentSubject,
		Status:         result.Snapshot.Status,
		Value:          result.Snapshot.Value,
		State:          wire,
		MachineVersion: m.Version,
	}
	if prev != nil {
		rec.InitEventID = prev.InitEventID
		rec.EventsConsumed = prev.EventsConsumed + 1
		rec.EventsProduced = prev.EventsProduced + len(result.Intents)
		if rec.ParentSubject == "" {
			rec.ParentSubject = prev.ParentSubject
		}
	} else {
		rec.InitEventID = ev.ID
		rec.EventsConsumed = 1
		rec.EventsProduced = len(result.Intents)
	}
	if err := c.Memory.Write(ctx, sub, rec, prev); err != nil {
		return violation.NewTransactionViolation(violation.CauseWriteFailure, "orchestrator.persist", err)
	}
	return nil
}

// SystemErrorSchema returns the {type, schema} pair the Controller uses
// to build its distinguished system-error events, so an integrator can
// register the same pair with their own transport or contract catalog
// instead of guessing the shape from the wire.
func (c *Controller) SystemErrorSchema() (string, contract.Schema) {
	return contract.SystemErrorType(c.Registry.Source()), contract.MapSchema{Required: []string{"message"}}
}

// systemErrorEvent converts a soft failure into the distinguished
// sys.<source>.error event, addressed at the subject's initiator.
func (c *Controller) systemErrorEvent(ev *arvoevent.Event, sub *subject.Subject, cause error) []arvoevent.Event {
	source := c.Registry.Source()
	payload := map[string]any{"message": cause.Error()}
	data, _ := json.Marshal(payload)
	return []arvoevent.Event{{
		ID:      arvoevent.NewID(),
		Type:    contract.SystemErrorType(source),
		Source:  source,
		Subject: ev.Subject,
		To:      sub.Initiator,
		Data:    data,
	}}
}

func decodeSnapshot(rec *memory.Record) (*snapshot.Snapshot, error) {
	if rec == nil || rec.State == "" {
		return nil, nil
	}
	snap, err := snapshot.Decode(rec.State)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
