package stream

import (
	"encoding/json"
	"strings"
)

// ArgAssembler accumulates the incremental JSON-fragment deltas for a single
// tool call's arguments. One assembler exists per open tool-call index
// within a turn; the buffer is append-only for the life of the turn.
//
// The buffer is expected to be syntactically invalid JSON until the final
// fragment arrives, so TryParse returning nil is the normal mid-stream case,
// not an error. Finalized arguments always come from the runtime's ai frame
// as a complete object; the assembler's own parses feed live UI previews
// only.
type ArgAssembler struct {
	raw  strings.Builder
	name string
	id   string
}

// NewArgAssembler creates an assembler for one tool-call index. Name and id
// may be empty; providers often send them only on the first chunk.
func NewArgAssembler(name, id string) *ArgAssembler {
	return &ArgAssembler{name: name, id: id}
}

// Append adds one argument fragment to the buffer.
func (a *ArgAssembler) Append(fragment string) {
	a.raw.WriteString(fragment)
}

// Raw returns the accumulated argument text as received, still JSON-encoded.
func (a *ArgAssembler) Raw() string {
	return a.raw.String()
}

// Name returns the tool name, or "" if no chunk has carried it yet.
func (a *ArgAssembler) Name() string {
	return a.name
}

// ID returns the tool call id, or "" if no chunk has carried it yet.
func (a *ArgAssembler) ID() string {
	return a.id
}

// SetIdentity fills in name/id from a later chunk without overwriting
// values already seen.
func (a *ArgAssembler) SetIdentity(name, id string) {
	if a.name == "" {
		a.name = name
	}
	if a.id == "" {
		a.id = id
	}
}

// TryParse attempts to parse the buffer as a JSON object. Returns nil while
// the buffer is incomplete or malformed; callers re-attempt on every
// fragment and tolerate repeated failures silently.
func (a *ArgAssembler) TryParse() map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(a.raw.String()), &args); err != nil {
		return nil
	}
	return args
}
