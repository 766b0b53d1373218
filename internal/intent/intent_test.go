package intent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/comalice/statechartx"

	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
)

func testMachine(t *testing.T, strict bool) (*machine.Machine, *contract.Contract) {
	t.Helper()
	root := &statechartx.State{ID: "start"}
	def, err := chartruntime.NewDefinition(root, chartruntime.ActionRegistry{}, nil)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	self := &contract.Contract{
		URI:               "https://contracts.example/order.orchestrator",
		Version:           "1.0.0",
		Type:              contract.TypeOrchestrator,
		Accepts:           contract.Accepts{Type: "com.example.order.init"},
		CompleteEventType: "com.example.order.completed",
	}
	payment := &contract.Contract{
		URI:     "https://contracts.example/payment.service",
		Version: "1.0.0",
		Type:    contract.TypeService,
		Accepts: contract.Accepts{
			Type:   "com.example.payment.charge",
			Schema: contract.MapSchema{Required: []string{"amount"}},
		},
	}
	services := map[string]*contract.Contract{payment.URI: payment}
	m, err := machine.New("order.orchestrator", "1.0.0", self, services, def, false)
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	return m, payment
}

func TestEmitBuildsContractedEventWithDataSchema(t *testing.T) {
	m, payment := testMachine(t, true)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-1", Initiator: "user-1", Strict: true}

	events, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.payment.charge", Data: json.RawMessage(`{"amount":10}`)},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].DataSchema != payment.DataSchemaURI() {
		t.Fatalf("dataschema = %q, want %q", events[0].DataSchema, payment.DataSchemaURI())
	}
	if events[0].Subject != "sub-1" {
		t.Fatalf("expected service intent to stay on the same subject, got %q", events[0].Subject)
	}
}

func TestEmitFailsClosedOnUncontractedIntentWhenStrict(t *testing.T) {
	m, _ := testMachine(t, true)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-1", Initiator: "user-1", Strict: true}

	_, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.unknown.event", Data: json.RawMessage(`{}`)},
	})
	if err == nil {
		t.Fatal("expected EMIT_UNCONTRACTED failure in strict mode")
	}
}

func TestEmitPassesThroughUncontractedWhenNotStrict(t *testing.T) {
	m, _ := testMachine(t, false)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-1", Initiator: "user-1", Strict: false}

	events, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.unknown.event", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(events) != 1 || events[0].DataSchema != "" {
		t.Fatalf("expected one uncontracted event with no dataschema, got %+v", events)
	}
}

func TestEmitRejectsMismatchedPayload(t *testing.T) {
	m, _ := testMachine(t, true)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-1", Initiator: "user-1", Strict: true}

	_, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.payment.charge", Data: json.RawMessage(`{}`)},
	})
	if err == nil {
		t.Fatal("expected DATASCHEMA_MISMATCH failure for missing required field")
	}
}

func TestEmitRoutesCompletionToParentSubject(t *testing.T) {
	m, _ := testMachine(t, true)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-child", Initiator: "user-1", ParentSubject: "sub-parent", Strict: true}

	events, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.order.completed", Data: json.RawMessage(`{"ok":true}`)},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(events) != 1 || events[0].Subject != "sub-parent" {
		t.Fatalf("expected completion event routed to parent subject, got %+v", events)
	}
}

func TestEmitFirstErrorWinsCollapsesWholeTurn(t *testing.T) {
	m, _ := testMachine(t, true)
	b := New()
	in := Inputs{Machine: m, Subject: "sub-1", Initiator: "user-1", Strict: true}

	_, err := b.Emit(context.Background(), in, []chartruntime.Intent{
		{Type: "com.example.payment.charge", Data: json.RawMessage(`{"amount":10}`)},
		{Type: "com.example.unknown.event", Data: json.RawMessage(`{}`)},
	})
	if err == nil {
		t.Fatal("expected the second intent's failure to fail the whole turn")
	}
}
