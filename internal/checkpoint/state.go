package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IterationState holds the main-loop counters that survive a restart.
type IterationState struct {
	IterationsDone int64     `json:"iterations_done"`
	EpochsDone     int64     `json:"epochs_done"`
	LastCost       float64   `json:"last_cost"`
	Filtered       int64     `json:"filtered"`
	SavedAt        time.Time `json:"saved_at"`
}

// Entry is one record of the training log.
type Entry struct {
	Iteration int64          `json:"iteration"`
	Event     string         `json:"event"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Log is the append-only training log. It is not safe for concurrent use.
type Log struct {
	entries []Entry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records an event at iteration.
func (l *Log) Append(iteration int64, event string, fields map[string]any) {
	l.entries = append(l.entries, Entry{
		Iteration: iteration,
		Event:     event,
		Time:      time.Now().UTC(),
		Fields:    fields,
	})
}

// Entries returns the recorded entries in order.
func (l *Log) Entries() []Entry {
	return l.entries
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// WriteFile replaces path with the log, one JSON object per line.
func (l *Log) WriteFile(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range l.entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return writeAtomic(path, buf.Bytes())
}

// ReadLog reads a log written by WriteFile.
func ReadLog(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l := NewLog()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		l.entries = append(l.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

func writeState(path string, state IterationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, append(data, '\n'))
}

func readState(path string) (IterationState, error) {
	var state IterationState
	data, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("%s: %w", path, err)
	}
	if state.IterationsDone < 0 || state.EpochsDone < 0 {
		return IterationState{}, fmt.Errorf("%s: negative counters", path)
	}
	return state, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
