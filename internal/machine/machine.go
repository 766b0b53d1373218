// Package machine defines the versioned state-chart implementation
// bound to a self-contract and zero or more service contracts that the
// Machine Registry resolves events against and the Execution Engine
// drives one turn at a time.
package machine

import (
	"fmt"

	"github.com/fenwick-io/machina/internal/contract"
	"github.com/fenwick-io/machina/internal/machine/chartruntime"
)

// ValidationResult names the outcome of Validate.
type ValidationResult string

const (
	Valid              ValidationResult = "VALID"
	InvalidData        ValidationResult = "INVALID_DATA"
	Invalid            ValidationResult = "INVALID"
	ContractUnresolved ValidationResult = "CONTRACT_UNRESOLVED"
)

// Machine is one versioned orchestrator implementation: a name, a
// semantic version, the contract it accepts events under, the service
// contracts it is allowed to emit against, and the chart runtime that
// actually interprets events.
type Machine struct {
	Source  string // logical orchestrator name; must equal Self.URI's last segment by convention, not enforced here
	Version string

	Self     *contract.Contract            // this machine's own (orchestrator) contract
	Services map[string]*contract.Contract // keyed by contract URI

	Logic chartruntime.ChartRuntime

	// RequiresResourceLocking tells the Orchestrator Controller whether
	// this machine's turns must run under a memory-store lock. Machines
	// with no shared external state can opt out.
	RequiresResourceLocking bool
}

// New constructs a Machine, validating the chart runtime at build time
// (rejecting forbidden shapes and the reserved-action-name collision).
func New(source, version string, self *contract.Contract, services map[string]*contract.Contract, logic chartruntime.ChartRuntime, requiresLocking bool) (*Machine, error) {
	if source == "" || version == "" {
		return nil, fmt.Errorf("machine: source and version are required")
	}
	if self == nil {
		return nil, fmt.Errorf("machine: self contract is required")
	}
	if logic == nil {
		return nil, fmt.Errorf("machine: logic is required")
	}
	if err := logic.Validate(); err != nil {
		return nil, fmt.Errorf("machine: chart runtime rejected: %w", err)
	}
	if services == nil {
		services = map[string]*contract.Contract{}
	}
	return &Machine{
		Source:                  source,
		Version:                 version,
		Self:                    self,
		Services:                services,
		Logic:                   logic,
		RequiresResourceLocking: requiresLocking,
	}, nil
}

// Emits returns the set of event types this machine's service contracts
// are allowed to produce, plus its own completion event type and its
// system-error event type. It is a discovery helper for registry
// introspection (Describe), not used on the hot path.
func (m *Machine) Emits() []string {
	if m == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	if m.Self != nil {
		add(m.Self.CompleteEventType)
		add(contract.SystemErrorType(m.Source))
	}
	for _, svc := range m.Services {
		if svc == nil {
			continue
		}
		for t := range svc.Emits {
			add(t)
		}
	}
	return out
}

// Validate checks that this machine's contract wiring is internally
// consistent: its self contract resolves, its chart runtime still
// passes build-time validation, and every service reference is non-nil.
// It does not validate any particular event's data — that is the
// Controller's INPUT_VALIDATING step, driven by Accepts.Schema.
func (m *Machine) Validate() ValidationResult {
	if m == nil || m.Self == nil {
		return ContractUnresolved
	}
	if m.Logic == nil {
		return Invalid
	}
	if err := m.Logic.Validate(); err != nil {
		return Invalid
	}
	for uri, svc := range m.Services {
		if svc == nil {
			return ContractUnresolved
		}
		if svc.URI != uri {
			return ContractUnresolved
		}
	}
	return Valid
}
