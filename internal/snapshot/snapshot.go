// Package snapshot defines the Machine Snapshot — the opaque,
// persistable state of one interpreter instance — and the
// base64(zlib(JSON)) codec used to persist it at rest. The codec uses
// klauspost/compress's zlib-compatible implementation rather than the
// standard library's compress/zlib, the same way this module's other
// high-throughput persistence paths do.
package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zlib"

	pkgerrors "github.com/fenwick-io/machina/internal/pkg/errors"
)

// VolatileEventQueueKey is the reserved context key the built-in
// enqueueArvoEvent action writes buffered intents under. The engine
// drains it after every turn and strips it before a snapshot is
// persisted — it must never appear in a value returned by Decode.
const VolatileEventQueueKey = "arvo$$.volatile$$.eventQueue$$"

// Snapshot is the round-trippable state of one machine instance.
type Snapshot struct {
	Status  string         `json:"status"`
	Value   any            `json:"value"` // active leaf state name, or a list of them when several are active
	Context map[string]any `json:"context"`
	Output  any            `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`

	// History/children are opaque to this module; the chart runtime
	// populates them and reads them back verbatim.
	History  any `json:"history,omitempty"`
	Children any `json:"children,omitempty"`
}

// IsTerminal reports whether this snapshot's status represents a
// finished machine. Machines may define additional terminal status
// strings of their own; callers with machine-specific terminal statuses
// should check those themselves.
func (s Snapshot) IsTerminal() bool {
	switch s.Status {
	case "done", "error", "stopped":
		return true
	default:
		return false
	}
}

// StripVolatile removes the reserved intent-buffer sub-tree from
// Context, returning the buffered intents it held (possibly nil). This
// must run before Encode — no persisted snapshot may carry the volatile
// sub-tree.
func (s *Snapshot) StripVolatile() []any {
	if s.Context == nil {
		return nil
	}
	raw, ok := s.Context[VolatileEventQueueKey]
	delete(s.Context, VolatileEventQueueKey)
	if !ok || raw == nil {
		return nil
	}
	items, _ := raw.([]any)
	return items
}

// Encode serializes a Snapshot to its at-rest wire form:
// base64(zlib(JSON)), standard encoding. Callers must call
// StripVolatile first; Encode does not do it implicitly so the engine
// stays the single place that decides when the volatile buffer has been
// fully drained.
func Encode(s Snapshot) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		_ = zw.Close()
		return "", fmt.Errorf("snapshot: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("snapshot: compress: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. It is the caller's responsibility to validate
// the result against a snapshot schema if one is configured — this
// function only guarantees the byte round-trip, not semantic validity.
func Decode(wire string) (Snapshot, error) {
	var out Snapshot
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return out, fmt.Errorf("snapshot: not valid base64: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return out, fmt.Errorf("snapshot: not valid zlib: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return out, fmt.Errorf("snapshot: decompress: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		return out, fmt.Errorf("snapshot: not valid json: %w: %w", err, pkgerrors.ErrInvalidArgument)
	}
	return out, nil
}
