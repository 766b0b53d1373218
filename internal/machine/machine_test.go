package machine

import (
	"testing"

	"github.com/comalice/statechartx"

	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
)

func newTestDefinition(t *testing.T) chartruntime.ChartRuntime {
	t.Helper()
	root := &statechartx.State{ID: "start"}
	def, err := chartruntime.NewDefinition(root, chartruntime.ActionRegistry{}, nil)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	return def
}

func selfContract(uri, version, completeEventType string) *contract.Contract {
	return &contract.Contract{
		URI:               uri,
		Version:           version,
		Type:              contract.TypeOrchestrator,
		Accepts:           contract.Accepts{Type: "com.example.init"},
		CompleteEventType: completeEventType,
	}
}

func TestNewRejectsMissingFields(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "")

	if _, err := New("", "1.0.0", self, nil, def, false); err == nil {
		t.Fatal("expected error for empty source")
	}
	if _, err := New("order.orchestrator", "", self, nil, def, false); err == nil {
		t.Fatal("expected error for empty version")
	}
	if _, err := New("order.orchestrator", "1.0.0", nil, nil, def, false); err == nil {
		t.Fatal("expected error for nil self contract")
	}
	if _, err := New("order.orchestrator", "1.0.0", self, nil, nil, false); err == nil {
		t.Fatal("expected error for nil logic")
	}
}

func TestNewDefaultsNilServicesToEmptyMap(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "")
	m, err := New("order.orchestrator", "1.0.0", self, nil, def, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Services == nil {
		t.Fatal("expected New to default a nil services map to an empty one")
	}
}

func TestValidateFlagsUnresolvedServiceContract(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "")
	m, err := New("order.orchestrator", "1.0.0", self, map[string]*contract.Contract{
		"https://contracts.example/payment.service": nil,
	}, def, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Validate(); got != ContractUnresolved {
		t.Fatalf("Validate() = %v, want %v", got, ContractUnresolved)
	}
}

func TestValidateFlagsMismatchedServiceKey(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "")
	svc := &contract.Contract{URI: "https://contracts.example/payment.service", Version: "1.0.0"}
	m, err := New("order.orchestrator", "1.0.0", self, map[string]*contract.Contract{
		"https://contracts.example/wrong-key": svc,
	}, def, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Validate(); got != ContractUnresolved {
		t.Fatalf("Validate() = %v, want %v", got, ContractUnresolved)
	}
}

func TestValidateAcceptsWellFormedMachine(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "")
	svc := &contract.Contract{URI: "https://contracts.example/payment.service", Version: "1.0.0"}
	m, err := New("order.orchestrator", "1.0.0", self, map[string]*contract.Contract{
		svc.URI: svc,
	}, def, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Validate(); got != Valid {
		t.Fatalf("Validate() = %v, want %v", got, Valid)
	}
}

func TestEmitsCollectsSelfCompletionSystemErrorAndServiceEmits(t *testing.T) {
	def := newTestDefinition(t)
	self := selfContract("https://contracts.example/order.orchestrator", "1.0.0", "com.example.order.completed")
	svc := &contract.Contract{
		URI:     "https://contracts.example/payment.service",
		Version: "1.0.0",
		Emits: map[string]contract.Schema{
			"com.example.payment.charge": contract.MapSchema{Required: []string{"amount"}},
		},
	}
	m, err := New("order.orchestrator", "1.0.0", self, map[string]*contract.Contract{svc.URI: svc}, def, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	emits := m.Emits()
	seen := map[string]bool{}
	for _, et := range emits {
		seen[et] = true
	}
	for _, want := range []string{
		"com.example.order.completed",
		"sys.order.orchestrator.error",
		"com.example.payment.charge",
	} {
		if !seen[want] {
			t.Fatalf("expected Emits() to include %q, got %v", want, emits)
		}
	}
}

func TestEmitsOnNilMachineReturnsNil(t *testing.T) {
	var m *Machine
	if got := m.Emits(); got != nil {
		t.Fatalf("expected nil Emits() on a nil machine, got %v", got)
	}
}

func TestValidateOnNilMachineIsContractUnresolved(t *testing.T) {
	var m *Machine
	if got := m.Validate(); got != ContractUnresolved {
		t.Fatalf("Validate() on nil machine = %v, want %v", got, ContractUnresolved)
	}
}
