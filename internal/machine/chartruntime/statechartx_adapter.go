package chartruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/comalice/statechartx"
)

const volatileQueueKey = "arvo$$.volatile$$.eventQueue$$"

// ActionRegistry is the named-action table a machine definition supplies
// alongside its root state, the same way a YAML-declared chart resolves
// a string action name to Go code. statechartx's Action/Guard values are
// plain closures with no name of their own, so name-collision checks —
// including the reserved enqueueArvoEvent check — happen against this
// registry, not against the built *statechartx.State tree.
type ActionRegistry map[string]statechartx.Action

// Definition wraps one statechartx root state plus the action names used
// to build it, and implements ChartRuntime.
type Definition struct {
	root         *statechartx.State
	actionNames  map[string]bool
	outputStates map[statechartx.StateID]func(ext any) (json.RawMessage, bool)
}

// NewDefinition builds a Definition from a statechartx root state and
// the registry of named actions used while constructing it. outputOf, if
// non-nil, is consulted by Instance.Output to extract a final output
// value once one of its states is an active leaf; a state's outbound
// transitions are not inspected.
func NewDefinition(root *statechartx.State, actions ActionRegistry, outputOf map[statechartx.StateID]func(ext any) (json.RawMessage, bool)) (*Definition, error) {
	if root == nil {
		return nil, fmt.Errorf("chartruntime: root state is required")
	}
	names := map[string]bool{}
	for name := range actions {
		names[name] = true
	}
	d := &Definition{root: root, actionNames: names, outputStates: outputOf}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate implements ChartRuntime. statechartx's State/Transition
// shapes have no invoke, after, or actor-reference concept at all, so
// those checks are always satisfied by construction; the one real
// collision risk is a machine author registering their own action under
// the reserved name.
func (d *Definition) Validate() error {
	return validateDefinition(false, false, false, false, d.actionNames)
}

// NewInstance implements ChartRuntime.
func (d *Definition) NewInstance(extendedContext map[string]any) (Instance, error) {
	return d.start(extendedContext, nil)
}

// Restore implements ChartRuntime by entering the initial configuration
// and replaying history in order.
func (d *Definition) Restore(extendedContext map[string]any, history []RecordedEvent) (Instance, error) {
	inst, err := d.start(extendedContext, nil)
	if err != nil {
		return nil, err
	}
	si := inst.(*statechartxInstance)
	for _, ev := range history {
		if _, err := si.Send(context.Background(), ev.Type, ev.Data); err != nil {
			return nil, fmt.Errorf("chartruntime: restore: replaying %q: %w", ev.Type, err)
		}
	}
	si.history = append([]RecordedEvent{}, history...)
	return si, nil
}

func (d *Definition) start(extendedContext map[string]any, history []RecordedEvent) (Instance, error) {
	extCtx := statechartx.NewContext()
	for k, v := range extendedContext {
		extCtx.Set(k, v)
	}
	rt := statechartx.NewRuntime(d.root, extCtx)
	inst := &statechartxInstance{
		def:    d,
		rt:     rt,
		ext:    extCtx,
		ctx:    context.Background(),
		history: append([]RecordedEvent{}, history...),
	}
	if err := rt.Start(inst.ctx); err != nil {
		return nil, fmt.Errorf("chartruntime: start: %w", err)
	}
	return inst, nil
}

// statechartxInstance implements Instance over a live *statechartx.Runtime.
type statechartxInstance struct {
	def *Definition
	rt  *statechartx.Runtime
	ext *statechartx.Context
	ctx context.Context

	mu      sync.Mutex
	history []RecordedEvent
}

func (i *statechartxInstance) Send(ctx context.Context, eventType string, data json.RawMessage) ([]Intent, error) {
	before := i.drainRaw()

	if err := i.rt.SendEvent(ctx, eventType); err != nil {
		return nil, fmt.Errorf("chartruntime: send %q: %w", eventType, err)
	}

	i.mu.Lock()
	i.history = append(i.history, RecordedEvent{Type: eventType, Data: data})
	i.mu.Unlock()

	after := i.drainRaw()
	return append(before, after...), nil
}

// drainRaw reads and clears the volatile intent queue the built-in
// enqueueArvoEvent action appends to, converting its entries to Intent.
func (i *statechartxInstance) drainRaw() []Intent {
	raw := i.ext.Get(volatileQueueKey)
	if raw == nil {
		return nil
	}
	items, _ := raw.([]Intent)
	i.ext.Delete(volatileQueueKey)
	return items
}

func (i *statechartxInstance) Value() any {
	var leaves []string
	i.collectLeaves(i.def.root, &leaves)
	sort.Strings(leaves)
	if len(leaves) == 1 {
		return leaves[0]
	}
	return leaves
}

func (i *statechartxInstance) collectLeaves(s *statechartx.State, out *[]string) {
	if s == nil {
		return
	}
	if len(s.Children) == 0 {
		if i.rt.IsInState(s.ID) {
			*out = append(*out, string(s.ID))
		}
		return
	}
	for _, child := range s.Children {
		i.collectLeaves(child, out)
	}
}

func (i *statechartxInstance) IsDone() bool {
	_, ok := i.Output()
	return ok
}

func (i *statechartxInstance) Output() (json.RawMessage, bool) {
	if i.def.outputStates == nil {
		return nil, false
	}
	var leaves []string
	i.collectLeaves(i.def.root, &leaves)
	for _, leaf := range leaves {
		if fn, ok := i.def.outputStates[statechartx.StateID(leaf)]; ok {
			return fn(i.ext)
		}
	}
	return nil, false
}

func (i *statechartxInstance) Context() map[string]any {
	return i.ext.GetAll()
}

func (i *statechartxInstance) History() []RecordedEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]RecordedEvent{}, i.history...)
}

// MakeEnqueueArvoEvent builds the one built-in action machines are
// allowed to wire under the reserved name: it appends a fully-formed
// Intent to the running instance's volatile queue. dataFn receives the
// instance's extended-state context so the intent payload can be built
// from current state.
func MakeEnqueueArvoEvent(intentType string, dataFn func(ext *statechartx.Context) json.RawMessage) statechartx.Action {
	return func(ctx context.Context, event statechartx.Event, from, to statechartx.StateID, extAny any) {
		ext, ok := extAny.(*statechartx.Context)
		if !ok {
			return
		}
		var data json.RawMessage
		if dataFn != nil {
			data = dataFn(ext)
		}
		existing, _ := ext.Get(volatileQueueKey).([]Intent)
		ext.Set(volatileQueueKey, append(existing, Intent{Type: intentType, Data: data}))
	}
}

// ValidateActionNames is a builder-time guard other packages can call
// while assembling an ActionRegistry from a declarative (e.g. YAML)
// table, before a root state even exists, so the reserved-name collision
// is reported as early as possible.
func ValidateActionNames(names []string) error {
	for _, n := range names {
		if strings.EqualFold(n, ReservedActionName) {
			return ErrReservedActionCollision
		}
	}
	return nil
}
