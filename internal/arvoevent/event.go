// Package arvoevent defines the one bit-exact contract this module
// promises callers: the outbound Event shape. It is a minimal,
// self-contained CloudEvent-shaped record — just enough of one to
// drive and test the engine, registry, factory and controller against.
package arvoevent

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event is an immutable CloudEvent-shaped record. Extensions carries any
// field not named explicitly below; it is merged into the canonical JSON
// form alongside the named fields, never nested under its own key.
type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Source         string          `json:"source"`
	Subject        string          `json:"subject"`
	To             string          `json:"to,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	DataSchema     string          `json:"dataschema,omitempty"`
	Traceparent    string          `json:"traceparent,omitempty"`
	Tracestate     string          `json:"tracestate,omitempty"`
	AccessControl  string          `json:"accesscontrol,omitempty"`
	RedirectTo     string          `json:"redirectto,omitempty"`
	ExecutionUnits float64         `json:"executionunits,omitempty"`
	Extensions     map[string]any  `json:"-"`
}

// NewID returns a fresh event id. Broken out so tests can stub it.
var NewID = func() string { return uuid.NewString() }

// MarshalJSON produces the canonical form: the named attributes plus
// every extension key flattened alongside them. Extension keys never
// shadow a named attribute.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	named, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extensions) == 0 {
		return named, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	named := namedFields()
	for k, v := range e.Extensions {
		if _, reserved := merged[k]; reserved || named[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the named attributes and collects every
// remaining key into Extensions.
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = Event(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	named := namedFields()
	ext := map[string]any{}
	for k, v := range raw {
		if named[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		ext[k] = val
	}
	if len(ext) > 0 {
		e.Extensions = ext
	}
	return nil
}

func namedFields() map[string]bool {
	return map[string]bool{
		"id": true, "type": true, "source": true, "subject": true, "to": true,
		"data": true, "dataschema": true, "traceparent": true, "tracestate": true,
		"accesscontrol": true, "redirectto": true, "executionunits": true,
	}
}
