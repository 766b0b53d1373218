// Package engine drives one turn of a machine's state chart from a
// persisted snapshot and one inbound event, collecting every intent the
// turn buffers and returning the next persistable snapshot alongside
// them. It never touches the memory store, the registry, or the Intent
// Buffer's contract-routing logic — those are the Controller's job.
package engine

import (
	"context"
	"fmt"

	"github.com/fenwick-io/machina/internal/arvoevent"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
	"github.com/fenwick-io/machina/internal/snapshot"
	"github.com/fenwick-io/machina/internal/violation"
)

// Input is one call to Execute.
type Input struct {
	Machine  *machine.Machine
	Snapshot *snapshot.Snapshot // nil for a brand-new instance
	Event    *arvoevent.Event
}

// Result is what one turn produced.
type Result struct {
	Snapshot    snapshot.Snapshot // ready to persist: volatile sub-tree already stripped
	Intents     []chartruntime.Intent
	FinalOutput any
	Done        bool
}

// Engine runs turns. It carries no state between calls — every Execute
// call is self-contained given its Input.
type Engine struct{}

// New constructs an Engine.
func New() *Engine { return &Engine{} }

// Execute runs exactly one turn. When in.Snapshot is nil, in.Event.Type
// must equal in.Machine.Self's accepted event type — any other event
// arriving for a not-yet-started instance is a BAD_INIT execution
// violation, since there is no state to resume from and no basis to
// start one.
func (e *Engine) Execute(ctx context.Context, in Input) (Result, error) {
	if in.Machine == nil || in.Machine.Logic == nil {
		return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.Execute", fmt.Errorf("machine or logic is nil"))
	}
	if in.Event == nil {
		return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.Execute", fmt.Errorf("nil event"))
	}

	if in.Snapshot == nil {
		if in.Machine.Self == nil || in.Event.Type != in.Machine.Self.Accepts.Type {
			return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.Execute",
				fmt.Errorf("no prior state and event type %q does not match accepted init type", in.Event.Type))
		}
		return e.start(ctx, in)
	}
	return e.resume(ctx, in)
}

func (e *Engine) start(ctx context.Context, in Input) (Result, error) {
	extended := map[string]any{}
	inst, err := in.Machine.Logic.NewInstance(extended)
	if err != nil {
		return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.start", err)
	}
	intents, err := inst.Send(ctx, in.Event.Type, in.Event.Data)
	if err != nil {
		return Result{}, violation.NewWorkflowError("INVALID", "engine.start", err)
	}
	return e.collect(inst, intents)
}

func (e *Engine) resume(ctx context.Context, in Input) (Result, error) {
	history, err := snapshotHistory(*in.Snapshot)
	if err != nil {
		return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.resume", err)
	}
	extended := in.Snapshot.Context
	if extended == nil {
		extended = map[string]any{}
	}
	inst, err := in.Machine.Logic.Restore(extended, history)
	if err != nil {
		return Result{}, violation.NewExecutionViolation("BAD_INIT", "engine.resume", err)
	}
	intents, err := inst.Send(ctx, in.Event.Type, in.Event.Data)
	if err != nil {
		return Result{}, violation.NewWorkflowError("INVALID", "engine.resume", err)
	}
	return e.collect(inst, intents)
}

func (e *Engine) collect(inst chartruntime.Instance, intents []chartruntime.Intent) (Result, error) {
	snap := snapshot.Snapshot{
		Status:  statusOf(inst),
		Value:   inst.Value(),
		Context: inst.Context(),
		History: encodeHistory(inst.History()),
	}
	// The volatile intent queue the built-in enqueueArvoEvent action
	// writes to is a bookkeeping artifact of the chart runtime's own
	// context map; snapshot.StripVolatile guarantees it never reaches
	// persistence even if an instance's Context() implementation
	// happened to still carry it.
	snap.StripVolatile()

	done := inst.IsDone()
	var output any
	if done {
		out, ok := inst.Output()
		if ok {
			var decoded any
			if len(out) > 0 {
				decoded = string(out)
			}
			output = decoded
			snap.Output = decoded
		}
	}

	return Result{
		Snapshot:    snap,
		Intents:     intents,
		FinalOutput: output,
		Done:        done,
	}, nil
}

func statusOf(inst chartruntime.Instance) string {
	if inst.IsDone() {
		return "done"
	}
	return "active"
}

// encodeHistory stores the replay log in the snapshot's opaque History
// field so a later turn's Restore can rebuild the active configuration.
func encodeHistory(history []chartruntime.RecordedEvent) any {
	if len(history) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]any{"type": h.Type, "data": string(h.Data)})
	}
	return out
}

func snapshotHistory(s snapshot.Snapshot) ([]chartruntime.RecordedEvent, error) {
	if s.History == nil {
		return nil, nil
	}
	raw, ok := s.History.([]any)
	if !ok {
		return nil, fmt.Errorf("engine: snapshot history has unexpected shape %T", s.History)
	}
	out := make([]chartruntime.RecordedEvent, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, _ := m["type"].(string)
		d, _ := m["data"].(string)
		out = append(out, chartruntime.RecordedEvent{Type: t, Data: []byte(d)})
	}
	return out, nil
}
