package stream

import (
	"strings"
	"sync"
	"time"
)

// HTML document boundary markers. The start match is deliberately loose
// (no closing ">") because attributes may follow the tag name and because
// provider streams may split the tag across fragments.
const (
	htmlStartTag = "<html"
	htmlEndTag   = "</html>"
)

// HTMLStream extracts an embedded HTML document from a tool call's raw
// argument stream so the document can be previewed before the surrounding
// JSON is parseable.
//
// Two buffers are kept: a fragment buffer that is consumed on each flush and
// used to spot the moment the opening tag appears, and an append-only full
// buffer used to find the closing tag, which may be far from the most recent
// fragment. Maintaining both tolerates arbitrary chunk boundaries without a
// cross-fragment regex.
//
// The argument text arrives still JSON-string-escaped; TakeFragment and
// CleanFull undo the escaping.
//
// Flushes are debounced: at most one timer is pending at a time, and data
// appended while a flush is pending rides along on that flush. Reset cancels
// any pending timer — required when a new turn starts, so a stale flush
// cannot fire into the next turn's renderer.
type HTMLStream struct {
	mu             sync.Mutex
	fragment       string
	full           strings.Builder
	started        bool
	ended          bool
	flushScheduled bool
	timer          *time.Timer
}

// NewHTMLStream returns an empty extractor.
func NewHTMLStream() *HTMLStream {
	return &HTMLStream{}
}

// Append adds one raw argument fragment to both buffers.
func (h *HTMLStream) Append(fragment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fragment += fragment
	h.full.WriteString(fragment)
}

// CheckStart reports whether this call detected the opening tag. On
// detection the fragment buffer is trimmed to begin at the tag, discarding
// the JSON key noise that precedes it. Calls after the first detection
// return false and have no effect.
func (h *HTMLStream) CheckStart() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return false
	}
	idx := strings.Index(h.fragment, htmlStartTag)
	if idx < 0 {
		return false
	}
	h.started = true
	h.fragment = h.fragment[idx:]
	return true
}

// CheckEnd reports whether this call detected the closing tag in the full
// buffer. Calls after the first detection return false and have no effect.
// Once ended, no further flushes fire for the turn.
func (h *HTMLStream) CheckEnd() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return false
	}
	if !strings.Contains(h.full.String(), htmlEndTag) {
		return false
	}
	h.ended = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.flushScheduled = false
	return true
}

// Started reports whether the opening tag has been seen.
func (h *HTMLStream) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Ended reports whether the closing tag has been seen.
func (h *HTMLStream) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

// TakeFragment returns the fragment buffer with JSON-string escapes decoded
// and empties it, as one atomic step. The flush consumer must use this
// rather than a separate read and clear: a fragment appended between the two
// would be wiped without ever being flushed.
func (h *HTMLStream) TakeFragment() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	fragment := h.fragment
	h.fragment = ""
	return decodeEscapes(fragment, false)
}

// CleanFull returns the full buffer with JSON-string escapes decoded,
// including carriage returns.
func (h *HTMLStream) CleanFull() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return decodeEscapes(h.full.String(), true)
}

// Document returns the cleaned full buffer sliced to the document bounds:
// from the opening tag through the closing tag when present, otherwise to
// the end of the buffer. Leading JSON noise before the opening tag is
// dropped.
func (h *HTMLStream) Document() string {
	clean := h.CleanFull()
	if idx := strings.Index(clean, htmlStartTag); idx >= 0 {
		clean = clean[idx:]
	}
	if idx := strings.Index(clean, htmlEndTag); idx >= 0 {
		clean = clean[:idx+len(htmlEndTag)]
	}
	return clean
}

// ScheduleFlush arranges for fn to run once after interval. While a flush is
// pending further calls are no-ops; appended data accumulates into the
// pending flush. This is a debounce, not a per-call rate limit. No flush is
// scheduled once the stream has ended.
func (h *HTMLStream) ScheduleFlush(interval time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flushScheduled || h.ended {
		return
	}
	h.flushScheduled = true
	h.timer = time.AfterFunc(interval, func() {
		h.mu.Lock()
		h.flushScheduled = false
		h.timer = nil
		ended := h.ended
		h.mu.Unlock()
		if !ended {
			fn()
		}
	})
}

// Reset clears all buffers and flags and cancels any pending flush timer.
// Called at turn start and when the stream ends.
func (h *HTMLStream) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.fragment = ""
	h.full.Reset()
	h.started = false
	h.ended = false
	h.flushScheduled = false
}

// decodeEscapes undoes the JSON-string escaping the HTML text carries
// because it arrives embedded in a JSON string value.
func decodeEscapes(s string, withCR bool) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\t`, "\t")
	if withCR {
		s = strings.ReplaceAll(s, `\r`, "\r")
	}
	return s
}
