package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/comalice/statechartx"

	"github.com/fenwick-io/machina/internal/arvoevent"
	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
	"github.com/fenwick-io/machina/internal/snapshot"
)

// roundTrip mirrors how the Controller hands a snapshot back to the
// engine: always through the wire codec, never the in-process struct a
// prior Execute call returned. snapshotHistory's type assertion against
// the decoded History shape only holds after that round trip.
func roundTrip(t *testing.T, s snapshot.Snapshot) *snapshot.Snapshot {
	t.Helper()
	wire, err := snapshot.Encode(s)
	if err != nil {
		t.Fatalf("snapshot.Encode: %v", err)
	}
	decoded, err := snapshot.Decode(wire)
	if err != nil {
		t.Fatalf("snapshot.Decode: %v", err)
	}
	return &decoded
}

func buildMachine(t *testing.T) *machine.Machine {
	t.Helper()
	awaiting := &statechartx.State{ID: "awaitingPayment"}
	completed := &statechartx.State{ID: "completed"}
	start := &statechartx.State{
		ID: "start",
		Transitions: []*statechartx.Transition{
			{Event: "com.example.order.init", Target: "awaitingPayment"},
		},
	}
	awaiting.Transitions = []*statechartx.Transition{
		{Event: "com.example.payment.succeeded", Target: "completed",
			Action: chartruntime.MakeEnqueueArvoEvent("com.example.order.completed", func(ext *statechartx.Context) json.RawMessage {
				return json.RawMessage(`{"status":"ok"}`)
			}),
		},
	}
	root := &statechartx.State{
		ID:      "root",
		Initial: start,
		Children: map[statechartx.StateID]*statechartx.State{
			"start": start, "awaitingPayment": awaiting, "completed": completed,
		},
	}
	start.Parent, awaiting.Parent, completed.Parent = root, root, root

	outputs := map[statechartx.StateID]func(ext any) (json.RawMessage, bool){
		"completed": func(ext any) (json.RawMessage, bool) { return json.RawMessage(`{"done":true}`), true },
	}
	def, err := chartruntime.NewDefinition(root, chartruntime.ActionRegistry{}, outputs)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	self := &contract.Contract{
		URI:     "https://contracts.example/order.orchestrator",
		Version: "1.0.0",
		Type:    contract.TypeOrchestrator,
		Accepts: contract.Accepts{Type: "com.example.order.init"},
	}
	m, err := machine.New("order.orchestrator", "1.0.0", self, nil, def, false)
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	return m
}

func TestExecuteBadInitWhenNoStateAndWrongEventType(t *testing.T) {
	m := buildMachine(t)
	e := New()
	_, err := e.Execute(context.Background(), Input{
		Machine: m,
		Event:   &arvoevent.Event{Type: "some.other.event"},
	})
	if err == nil {
		t.Fatal("expected BAD_INIT for mismatched init event type")
	}
}

func TestExecuteStartsFreshInstance(t *testing.T) {
	m := buildMachine(t)
	e := New()
	result, err := e.Execute(context.Background(), Input{
		Machine: m,
		Event:   &arvoevent.Event{Type: "com.example.order.init", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Snapshot.Value != "awaitingPayment" {
		t.Fatalf("expected value awaitingPayment, got %v", result.Snapshot.Value)
	}
	if result.Snapshot.Status != "active" {
		t.Fatalf("expected status active for a non-terminal snapshot, got %q", result.Snapshot.Status)
	}
	if result.Done {
		t.Fatal("fresh instance should not be done yet")
	}
}

func TestExecuteResumesFromSnapshotAndCollectsIntents(t *testing.T) {
	m := buildMachine(t)
	e := New()

	first, err := e.Execute(context.Background(), Input{
		Machine: m,
		Event:   &arvoevent.Event{Type: "com.example.order.init", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Execute (start): %v", err)
	}

	second, err := e.Execute(context.Background(), Input{
		Machine:  m,
		Snapshot: roundTrip(t, first.Snapshot),
		Event:    &arvoevent.Event{Type: "com.example.payment.succeeded", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Execute (resume): %v", err)
	}
	if !second.Done {
		t.Fatal("expected instance to be done after reaching completed")
	}
	if second.Snapshot.Status != "done" {
		t.Fatalf("expected status done for a terminal snapshot, got %q", second.Snapshot.Status)
	}
	if len(second.Intents) != 1 || second.Intents[0].Type != "com.example.order.completed" {
		t.Fatalf("expected one completion intent, got %+v", second.Intents)
	}
}

func TestPersistedSnapshotNeverCarriesVolatileQueue(t *testing.T) {
	m := buildMachine(t)
	e := New()
	result, err := e.Execute(context.Background(), Input{
		Machine: m,
		Event:   &arvoevent.Event{Type: "com.example.order.init", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := result.Snapshot.Context[snapshot.VolatileEventQueueKey]; ok {
		t.Fatal("persisted snapshot must not carry the volatile event queue")
	}
}
