// Package chartruntime is the boundary between this module and the
// hierarchical state-chart library that actually interprets a machine's
// states, transitions, guards and actions (github.com/comalice/
// statechartx). Nothing upstream of this package imports statechartx
// directly — the engine and registry only see the ChartRuntime and
// Instance interfaces defined here.
package chartruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ReservedActionName is the one action name machine authors may not
// define themselves: it is pre-registered by this package as the single
// way a transition or entry/exit action buffers an outbound intent.
const ReservedActionName = "enqueueArvoEvent"

// ErrReservedActionCollision is returned by Validate when a machine
// definition's own action registry redefines ReservedActionName.
var ErrReservedActionCollision = errors.New("chartruntime: action name \"" + ReservedActionName + "\" is reserved")

// Intent is one outbound event a turn wants to produce, as recorded by
// the built-in enqueueArvoEvent action. The Intent Buffer turns these
// into fully contract-validated events.
type Intent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RecordedEvent is one user-facing event a turn was driven by. Instances
// append every Send call here; it is the replay log a later turn's
// Restore walks to rebuild the active configuration a persisted
// snapshot described, since the underlying runtime has no native way to
// jump directly into an arbitrary non-initial configuration.
type RecordedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChartRuntime is a built, validated machine definition capable of
// producing running Instances.
type ChartRuntime interface {
	// Validate re-checks the definition: no forbidden shapes, no
	// reserved-name collisions. Called at machine construction time and
	// safe to call repeatedly.
	Validate() error

	// NewInstance starts a fresh instance with the given initial
	// extended-state context and an empty replay log.
	NewInstance(extendedContext map[string]any) (Instance, error)

	// Restore rebuilds an instance by entering the initial configuration
	// and replaying a previously recorded event log against the given
	// extended-state context. Guard and action determinism is assumed:
	// replaying the same events against the same starting context
	// reaches the same configuration it did originally.
	Restore(extendedContext map[string]any, history []RecordedEvent) (Instance, error)
}

// Instance is one running interpretation of a machine.
type Instance interface {
	// Send drives the instance with one event and returns any new
	// intents buffered (via enqueueArvoEvent) since the previous Send
	// call returned.
	Send(ctx context.Context, eventType string, data json.RawMessage) ([]Intent, error)

	// Value returns the current state configuration: the active leaf
	// state's ID as a string when one leaf is active, or a sorted slice
	// of leaf IDs when more than one leaf is active concurrently.
	Value() any

	// IsDone reports whether an active leaf state has a registered
	// output function that reports a final output.
	IsDone() bool

	// Output returns the instance's final output, if IsDone.
	Output() (json.RawMessage, bool)

	// Context returns a defensive copy of the extended-state context,
	// with the reserved volatile intent queue still attached — callers
	// that need the persistable form must strip it themselves.
	Context() map[string]any

	// History returns the replay log accumulated so far.
	History() []RecordedEvent
}

func validateDefinition(hasInvoke, hasAfter, hasActorRef, hasDelay bool, actionNames map[string]bool) error {
	if hasInvoke {
		return fmt.Errorf("chartruntime: invoke is not a supported state shape")
	}
	if hasAfter {
		return fmt.Errorf("chartruntime: after/delayed transitions are not supported")
	}
	if hasActorRef {
		return fmt.Errorf("chartruntime: actor references are not supported")
	}
	if hasDelay {
		return fmt.Errorf("chartruntime: delay declarations are not supported")
	}
	if actionNames[ReservedActionName] {
		return ErrReservedActionCollision
	}
	return nil
}
