package access

import (
	"sync"
	"time"

	"cloud.google.com/go/logging"
)

// Record is one audited access decision.
type Record struct {
	Email   string    `json:"email"`
	Granted bool      `json:"granted"`
	Reason  string    `json:"reason"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

// Log is a bounded in-memory ring of the most recent access decisions.
// When a cloud logger is attached every record is mirrored there as
// well, the ring itself only serves the ops API.
type Log struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
	clgr *logging.Logger
}

func NewLog(size int, clgr *logging.Logger) *Log {
	if size < 1 {
		size = 200
	}
	return &Log{
		buf:  make([]Record, size),
		clgr: clgr,
	}
}

func (l *Log) Append(r Record) {

	l.mu.Lock()
	l.buf[l.next] = r
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
	l.mu.Unlock()

	if l.clgr != nil {
		sev := logging.Notice
		if !r.Granted {
			sev = logging.Warning
		}
		l.clgr.Log(logging.Entry{Severity: sev, Payload: r})
	}
}

// Recent returns the audited decisions, newest first.
func (l *Log) Recent() []Record {

	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}

	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := l.next - i
		if idx < 0 {
			idx += len(l.buf)
		}
		out = append(out, l.buf[idx])
	}
	return out
}
