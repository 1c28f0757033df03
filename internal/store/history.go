package store

import (
	"errors"
	"time"
)

var ErrOutOfRange = errors.New("snapshot index out of range")

type Snapshot struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the append-only snapshot log of a project. Index order is
// chronological order; timestamps are informational.
type History []Snapshot

// Append adds a snapshot at the end and returns its index.
func (h *History) Append(code, message string, timestamp time.Time) int {
	*h = append(*h, Snapshot{Code: code, Message: message, Timestamp: timestamp})
	return len(*h) - 1
}

func (h History) Get(index int) (Snapshot, error) {
	if index < 0 || index >= len(h) {
		return Snapshot{}, ErrOutOfRange
	}
	return h[index], nil
}

// All returns a copy of the log.
func (h History) All() []Snapshot {
	return append([]Snapshot{}, h...)
}

func (h History) Len() int {
	return len(h)
}

func (h History) clone() History {
	if h == nil {
		return History{}
	}
	return append(History{}, h...)
}
