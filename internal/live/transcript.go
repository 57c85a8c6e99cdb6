package live

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TranscriptEntry is one line of the running conversation.
type TranscriptEntry struct {
	ID      int64  `json:"id"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Aggregator merges incremental transcript fragments of both speakers into a
// chronological list of entries.
//
// Per role it keeps a running buffer for the current turn. A fragment that
// extends the buffer (cumulative delivery) replaces it; any other fragment is
// appended (incremental delivery). Only [Aggregator.TurnComplete] and
// [Aggregator.Reset] clear the buffers. The trailing entry of a role is
// rewritten in place while it is non-final and no other role has spoken
// since; otherwise the buffer text lands in a new entry. Entries become
// immutable once final or once superseded.
//
// All methods are safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	entries []TranscriptEntry
	buf     map[Role]string
	nextID  int64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{buf: make(map[Role]string, 2), nextID: 1}
}

// Add merges one fragment and returns the entry it produced or updated.
func (a *Aggregator) Add(role Role, fragment string, final bool) TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.entries)
	inPlace := n > 0 && a.entries[n-1].Role == role && !a.entries[n-1].IsFinal
	if !inPlace {
		a.sealLocked(role)
	}

	cur := a.buf[role]
	if strings.HasPrefix(fragment, cur) {
		cur = fragment
	} else {
		cur += fragment
	}

	var out TranscriptEntry
	if inPlace {
		a.entries[n-1].Text = cur
		a.entries[n-1].IsFinal = final
		out = a.entries[n-1]
	} else {
		out = TranscriptEntry{ID: a.nextID, Role: role, Text: cur, IsFinal: final}
		a.nextID++
		a.entries = append(a.entries, out)
	}

	a.buf[role] = cur
	return out
}

// sealLocked finalises any earlier open entry of role so that only the newest
// entry of a role can ever be non-final.
func (a *Aggregator) sealLocked(role Role) {
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Role != role {
			continue
		}
		a.entries[i].IsFinal = true
		return
	}
}

// TurnComplete ends the current turn: both running buffers are cleared and
// every open entry is sealed, so the next fragment starts a new entry.
func (a *Aggregator) TurnComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.buf)
	for i := range a.entries {
		a.entries[i].IsFinal = true
	}
}

// Entries returns a copy of the transcript in display order.
func (a *Aggregator) Entries() []TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TranscriptEntry(nil), a.entries...)
}

// Len returns the number of entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset drops every entry and buffer. IDs keep increasing across resets.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	clear(a.buf)
}

// DefaultTriggers are the agent phrases that start the hold cue.
var DefaultTriggers = []string{"one moment", "let me check", "looking that up"}

// TriggerDetector scans agent speech for hold-cue trigger phrases. Matching
// is case-insensitive and literal. Phrases can be swapped at runtime.
type TriggerDetector struct {
	re atomic.Pointer[regexp.Regexp]
}

// NewTriggerDetector compiles phrases; an empty list uses [DefaultTriggers].
func NewTriggerDetector(phrases []string) *TriggerDetector {
	d := &TriggerDetector{}
	d.SetPhrases(phrases)
	return d
}

// SetPhrases replaces the trigger phrases. Blank phrases are ignored; an
// empty list restores [DefaultTriggers].
func (d *TriggerDetector) SetPhrases(phrases []string) {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		for _, p := range DefaultTriggers {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	d.re.Store(regexp.MustCompile(`(?i)` + strings.Join(quoted, "|")))
}

// Match reports whether text contains a trigger phrase.
func (d *TriggerDetector) Match(text string) bool {
	return d.re.Load().MatchString(text)
}
