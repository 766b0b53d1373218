package registry

import (
	"fmt"
	"sync"

	"github.com/fenwick-io/machina/internal/arvoevent"
	"github.com/fenwick-io/machina/internal/machine"
	"github.com/fenwick-io/machina/internal/subject"
	"github.com/fenwick-io/machina/internal/violation"
)

/*
The machine registry is the dispatch table for the orchestrator engine.

Purpose:
  - Map an incoming event's (orchestrator name, orchestrator version) pair,
    decoded from its subject, to exactly one Machine implementation
  - Enforce a one-to-one relationship between (name, version) and machine
  - Provide a safe, concurrent lookup mechanism for the Controller

Indirection is intentional:
  - It decouples event routing from machine implementation
  - It makes misconfiguration (duplicate versions, inconsistent source
    names across machines) explicit and fatal at construction time
*/

// Registry is a concurrency-safe (name, version) -> Machine table.
//
// Invariants:
//   - At most one machine may be registered per (name, version)
//   - Every machine registered must agree on Source — a registry that
//     mixes orchestrator names is a wiring bug, not a routing decision
//   - Registration happens at construction time; lookups happen
//     concurrently from many Controller goroutines
type Registry struct {
	mu       sync.RWMutex
	machines map[string]map[string]*machine.Machine // source -> version -> machine
	source   string
}

// New constructs a Registry from a non-empty set of machines. It fails
// fast with a ConfigViolation if the set is empty (EMPTY_REGISTRY) or if
// the machines disagree on their Source (INCONSISTENT_SOURCE).
func New(machines ...*machine.Machine) (*Registry, error) {
	if len(machines) == 0 {
		return nil, violation.NewConfigViolation("EMPTY_REGISTRY", "registry.New", fmt.Errorf("at least one machine is required"))
	}
	r := &Registry{machines: map[string]map[string]*machine.Machine{}}
	for _, m := range machines {
		if m == nil {
			return nil, violation.NewConfigViolation("EMPTY_REGISTRY", "registry.New", fmt.Errorf("nil machine"))
		}
		if r.source == "" {
			r.source = m.Source
		} else if r.source != m.Source {
			return nil, violation.NewConfigViolation("INCONSISTENT_SOURCE", "registry.New",
				fmt.Errorf("machine version %s has source %q, registry source is %q", m.Version, m.Source, r.source))
		}
		byVersion, ok := r.machines[m.Source]
		if !ok {
			byVersion = map[string]*machine.Machine{}
			r.machines[m.Source] = byVersion
		}
		if _, exists := byVersion[m.Version]; exists {
			return nil, violation.NewConfigViolation("INCONSISTENT_SOURCE", "registry.New",
				fmt.Errorf("duplicate registration for %s@%s", m.Source, m.Version))
		}
		byVersion[m.Version] = m
	}
	return r, nil
}

// Source returns the orchestrator name every machine in this registry
// shares.
func (r *Registry) Source() string {
	return r.source
}

// RequiresResourceLocking reports whether any registered machine needs
// memory-store locking — the logical OR across the whole registry, since
// the Controller locks per-subject before it knows which version of the
// machine will ultimately handle the event.
func (r *Registry) RequiresResourceLocking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, byVersion := range r.machines {
		for _, m := range byVersion {
			if m.RequiresResourceLocking {
				return true
			}
		}
	}
	return false
}

// Resolve finds the machine responsible for ev by parsing its subject
// and matching on (orchestrator name, orchestrator version) exactly —
// no fuzzy or latest-version fallback.
func (r *Registry) Resolve(ev *arvoevent.Event) (*machine.Machine, error) {
	if ev == nil {
		return nil, violation.NewExecutionViolation("BAD_SUBJECT", "registry.Resolve", fmt.Errorf("nil event"))
	}
	sub, err := subject.Parse(ev.Subject)
	if err != nil {
		return nil, violation.NewExecutionViolation("BAD_SUBJECT", "registry.Resolve", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	byVersion, ok := r.machines[sub.Orchestrator.Name]
	if !ok {
		return nil, violation.NewConfigViolation("REGISTRY_UNRESOLVED", "registry.Resolve",
			fmt.Errorf("no machine registered for orchestrator %q", sub.Orchestrator.Name))
	}
	m, ok := byVersion[sub.Orchestrator.Version]
	if !ok {
		return nil, violation.NewConfigViolation("REGISTRY_UNRESOLVED", "registry.Resolve",
			fmt.Errorf("no machine registered for %s@%s", sub.Orchestrator.Name, sub.Orchestrator.Version))
	}
	return m, nil
}

// MachineDescription is one entry of Describe's introspection output.
type MachineDescription struct {
	Source                  string   `json:"source"`
	Version                 string   `json:"version"`
	RequiresResourceLocking bool     `json:"requiresResourceLocking"`
	Emits                   []string `json:"emits"`
}

// Describe lists every machine this registry can route to, for
// operational tooling (health checks, admin listings) rather than the
// hot routing path.
func (r *Registry) Describe() []MachineDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []MachineDescription
	for _, byVersion := range r.machines {
		for _, m := range byVersion {
			out = append(out, MachineDescription{
				Source:                  m.Source,
				Version:                 m.Version,
				RequiresResourceLocking: m.RequiresResourceLocking,
				Emits:                   m.Emits(),
			})
		}
	}
	return out
}
