package transcript

import (
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Log holds the ordered entries of the current session. It is safe for
// concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	now     func() time.Time
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{index: make(map[string]int), now: now}
}

// NewID returns a fresh item identifier accepted by the realtime API.
func NewID() string {
	return nanoid.Must(32)
}

// AddMessage appends a user or assistant entry. A duplicate id is ignored so
// locally echoed items are not added twice when the server confirms them.
func (l *Log) AddMessage(id string, role Role, text string, done bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; ok {
		return false
	}
	status := StatusInProgress
	if done {
		status = StatusDone
	}
	l.append(Entry{ID: id, Role: role, Text: text, CreatedAt: l.now(), Status: status})
	return true
}

// AddBreadcrumb appends a lifecycle note.
func (l *Log) AddBreadcrumb(text string, data any) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := NewID()
	l.append(Entry{ID: id, Role: RoleBreadcrumb, Text: text, CreatedAt: l.now(), Status: StatusDone, Data: data})
	return id
}

func (l *Log) append(e Entry) {
	l.index[e.ID] = len(l.entries)
	l.entries = append(l.entries, e)
}

// UpdateText replaces the entry text, or appends to it for streaming deltas.
func (l *Log) UpdateText(id, text string, appendDelta bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	if appendDelta {
		l.entries[i].Text += text
	} else {
		l.entries[i].Text = text
	}
	return true
}

func (l *Log) SetStatus(id string, status EntryStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.entries[i].Status = status
	return true
}

func (l *Log) ToggleExpanded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.entries[i].Expanded = !l.entries[i].Expanded
	return l.entries[i].Expanded
}

// Entries returns a copy of the entries in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// LastAssistant returns the most recent assistant entry.
func (l *Log) LastAssistant() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Role == RoleAssistant {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Reset drops every entry.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.index = make(map[string]int)
}
