// Package runlog writes per-run artifacts: a final summary, an append-only
// event stream, and per-contact results.
//
// Layout under the run directory:
//
//	<dir>/<run_id>/summary.json       final roll-up
//	<dir>/<run_id>/events.ndjson      append-only event stream
//	<dir>/<run_id>/contacts/<id>.json per-contact results
package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insights-cli/internal/model"
)

// Event is one line in the run's NDJSON stream.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	ContactID string    `json:"contact_id,omitempty"`
	Batch     string    `json:"batch,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Writer persists one run's artifacts. Safe for concurrent use by the
// parallel runner's workers.
type Writer struct {
	runDir string

	mu     sync.Mutex
	events *os.File
}

// NewWriter creates the run directory tree and opens the event stream.
func NewWriter(baseDir, runID string) (*Writer, error) {
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(filepath.Join(runDir, "contacts"), 0o755); err != nil {
		return nil, eris.Wrapf(err, "runlog: create run dir %s", runDir)
	}
	events, err := os.OpenFile(filepath.Join(runDir, "events.ndjson"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open event stream")
	}
	return &Writer{runDir: runDir, events: events}, nil
}

// Dir returns the run directory path.
func (w *Writer) Dir() string {
	return w.runDir
}

// AppendEvent writes one event line. The timestamp is filled in when unset.
func (w *Writer) AppendEvent(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal event")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.events.Write(append(line, '\n')); err != nil {
		return eris.Wrap(err, "runlog: append event")
	}
	return nil
}

// WriteContactSummary persists one contact's result.
func (w *Writer) WriteContactSummary(cs model.ContactSummary) error {
	safe := strings.ReplaceAll(cs.ContactID, "/", "_")
	path := filepath.Join(w.runDir, "contacts", safe+".json")
	return writeJSON(path, cs)
}

// WriteFinalSummary persists the run roll-up and closes the event stream.
func (w *Writer) WriteFinalSummary(summary model.RunSummary) error {
	if err := writeJSON(filepath.Join(w.runDir, "summary.json"), summary); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.events != nil {
		if err := w.events.Close(); err != nil {
			return eris.Wrap(err, "runlog: close event stream")
		}
		w.events = nil
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "runlog: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "runlog: write %s", filepath.Base(path))
	}
	return nil
}
