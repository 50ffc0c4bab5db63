package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// exportSchemaVersion identifies the layout of exported result documents.
const exportSchemaVersion = 1

// Summary holds aggregate task counts by status.
type Summary struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Tracker keeps per-task records and aggregate counts for every task the
// engine has seen, and serializes terminal results for export. It holds
// clones, so records are safe to hand out without exposing engine state.
type Tracker struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Task
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[uuid.UUID]*Task),
	}
}

// Record stores the task's current state, replacing any previous record.
func (tr *Tracker) Record(t *Task) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.records[t.ID] = t.Clone()
}

// Get returns the last recorded state of a task.
func (tr *Tracker) Get(id uuid.UUID) (*Task, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// Summary returns counts of tracked tasks by status.
func (tr *Tracker) Summary() Summary {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var s Summary
	for _, t := range tr.records {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusRetrying:
			s.Retrying++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
		s.Total++
	}
	return s
}

// PurgeTerminal removes records in terminal states and returns their IDs
// so the caller can delete the corresponding store entries.
func (tr *Tracker) PurgeTerminal() []uuid.UUID {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var purged []uuid.UUID
	for id, t := range tr.records {
		if t.Status.IsTerminal() {
			purged = append(purged, id)
			delete(tr.records, id)
		}
	}
	return purged
}

// exportRecord is the portable shape of one terminal task result.
type exportRecord struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// exportDocument is the full exported file layout.
type exportDocument struct {
	SchemaVersion int            `json:"schema_version"`
	Statistics    Summary        `json:"statistics"`
	Results       []exportRecord `json:"results"`
}

// ExportResults writes all terminal task records to path as a JSON
// document. The output is deterministic for a given tracker state, so
// calling it repeatedly with no intervening completions produces
// identical files. The write is atomic (temp file + rename).
func (tr *Tracker) ExportResults(path string) error {
	tr.mu.RLock()
	doc := exportDocument{
		SchemaVersion: exportSchemaVersion,
		Results:       make([]exportRecord, 0),
	}
	for _, t := range tr.records {
		switch t.Status {
		case StatusPending:
			doc.Statistics.Pending++
		case StatusRunning:
			doc.Statistics.Running++
		case StatusRetrying:
			doc.Statistics.Retrying++
		case StatusSucceeded:
			doc.Statistics.Succeeded++
		case StatusFailed:
			doc.Statistics.Failed++
		case StatusCancelled:
			doc.Statistics.Cancelled++
		}
		doc.Statistics.Total++

		if !t.Status.IsTerminal() {
			continue
		}
		rec := exportRecord{
			ID:        t.ID,
			Type:      t.Type,
			Status:    t.Status,
			Attempts:  t.AttemptCount,
			Result:    t.Result,
			Error:     t.LastError,
			CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		}
		if t.StartedAt != nil {
			rec.StartedAt = t.StartedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
		}
		if t.CompletedAt != nil {
			rec.CompletedAt = t.CompletedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
		}
		doc.Results = append(doc.Results, rec)
	}
	tr.mu.RUnlock()

	sort.Slice(doc.Results, func(i, j int) bool {
		if doc.Results[i].CreatedAt != doc.Results[j].CreatedAt {
			return doc.Results[i].CreatedAt < doc.Results[j].CreatedAt
		}
		return doc.Results[i].ID.String() < doc.Results[j].ID.String()
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move export file into place: %w", err)
	}
	return nil
}
