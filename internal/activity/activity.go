// Package activity keeps a short in-memory history of what the agent did,
// shown on the status endpoints.
package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/melih/lab-agent/internal/logging"
)

// DefaultCapacity is how many entries a Log keeps.
const DefaultCapacity = 100

// Type classifies an entry.
type Type string

const (
	TypeInfo       Type = "info"
	TypeWarning    Type = "warning"
	TypeError      Type = "error"
	TypeDeployment Type = "deployment"
)

// Entry is one line of history.
type Entry struct {
	Time      time.Time `json:"-"`
	Timestamp string    `json:"timestamp"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp, e.Message)
}

// Log is a bounded ring of entries; the oldest entry is dropped when full.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

// New returns a Log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]Entry, capacity), now: time.Now}
}

// Add records a message and mirrors it to the structured log.
func (l *Log) Add(typ Type, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch typ {
	case TypeError:
		logging.Error(msg, "activity", string(typ))
	case TypeWarning:
		logging.Warn(msg, "activity", string(typ))
	default:
		logging.Info(msg, "activity", string(typ))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	l.entries[l.next] = Entry{Time: t, Timestamp: t.Format("15:04:05"), Message: msg, Type: typ}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

func (l *Log) Info(format string, args ...any)    { l.Add(TypeInfo, format, args...) }
func (l *Log) Warning(format string, args ...any) { l.Add(TypeWarning, format, args...) }
func (l *Log) Error(format string, args ...any)   { l.Add(TypeError, format, args...) }

// Deployment records a deployment event.
func (l *Log) Deployment(format string, args ...any) { l.Add(TypeDeployment, format, args...) }

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	start := 0
	if l.full {
		count = len(l.entries)
		start = l.next
	}
	if n > 0 && n < count {
		start = (start + count - n) % len(l.entries)
		count = n
	}

	out := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, l.entries[(start+i)%len(l.entries)])
	}
	return out
}
