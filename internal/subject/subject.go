// Package subject implements the orchestration-subject codec: the
// globally-unique workflow-instance identifier the Machine Registry
// parses to resolve a machine version, and that nested orchestrations
// chain through a parent subject. The wire format is base64(JSON) of
// an orchestrator name/version pair, an execution id, an initiator, and
// optional parent-subject/redirect metadata.
package subject

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/fenwick-io/machina/internal/pkg/errors"
)

// Ref names one orchestrator implementation: its logical name and the
// semantic version of the machine that should handle it.
type Ref struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Meta carries the optional fields that don't participate in identity
// but do participate in routing: the parent subject for nested
// orchestrations, and an inherited redirect target.
type Meta struct {
	ParentSubject string `json:"parentSubject,omitempty"`
	RedirectTo    string `json:"redirectto,omitempty"`
}

// Subject is the decoded form of a subject string.
type Subject struct {
	Orchestrator Ref    `json:"orchestrator"`
	ExecutionID  string `json:"executionId"`
	Initiator    string `json:"initiator"`
	Meta         Meta   `json:"meta,omitempty"`
}

var encoding = base64.RawURLEncoding

// New mints a fresh top-level subject for a brand-new orchestration: no
// parent, a freshly generated execution id.
func New(orchestrator, version, initiator string) (string, error) {
	if strings.TrimSpace(orchestrator) == "" || strings.TrimSpace(version) == "" {
		return "", fmt.Errorf("subject: orchestrator and version are required")
	}
	s := Subject{
		Orchestrator: Ref{Name: orchestrator, Version: version},
		ExecutionID:  uuid.NewString(),
		Initiator:    initiator,
	}
	return Encode(s)
}

// From derives a nested subject for a child orchestration chained to
// parentSubject: same rule as New, but with Meta.ParentSubject set to
// the parent's subject string so the child's completion event can route
// back up.
func From(parentSubject, orchestrator, version, initiator string) (string, error) {
	if strings.TrimSpace(parentSubject) == "" {
		return "", fmt.Errorf("subject: parentSubject is required")
	}
	if _, err := Parse(parentSubject); err != nil {
		return "", fmt.Errorf("subject: parentSubject does not parse: %w", err)
	}
	if strings.TrimSpace(orchestrator) == "" || strings.TrimSpace(version) == "" {
		return "", fmt.Errorf("subject: orchestrator and version are required")
	}
	s := Subject{
		Orchestrator: Ref{Name: orchestrator, Version: version},
		ExecutionID:  uuid.NewString(),
		Initiator:    initiator,
		Meta:         Meta{ParentSubject: parentSubject},
	}
	return Encode(s)
}

// Encode serializes a Subject to its wire form: base64(JSON), URL-safe,
// unpadded.
func Encode(s Subject) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(b), nil
}

// Parse decodes a subject string, failing with a plain error (the
// Controller is responsible for wrapping a Parse failure into an
// ExecutionViolation — this package knows nothing about the taxonomy).
func Parse(raw string) (*Subject, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("subject: empty: %w", pkgerrors.ErrInvalidArgument)
	}
	b, err := encoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("subject: not valid base64: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	var s Subject
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("subject: not valid json: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	if s.Orchestrator.Name == "" || s.Orchestrator.Version == "" {
		return nil, fmt.Errorf("subject: missing orchestrator name/version: %w", pkgerrors.ErrInvalidArgument)
	}
	return &s, nil
}

// IsValid reports whether raw parses as a well-formed subject.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}
