package processor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insights-cli/internal/claims"
	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/internal/runlog"
)

func TestRunner_Run(t *testing.T) {
	backend := newMemBackend(
		record("r1", "CNT-1", "call_note", "", "Note one.", 1),
		record("r2", "CNT-2", "call_note", "", "Note two.", 2),
	)
	gen := &scriptedGenerator{script: []genReply{{text: `{"personal": "x"}`}}}
	p := newTestProcessor(t, backend, gen)

	r := NewRunner(p, nil, nil, 2)
	summary, err := r.Run(context.Background(), "run-1", []string{"CNT-1", "CNT-2"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.TotalContacts)
	assert.Equal(t, 2, summary.SuccessfulContacts)
	assert.Zero(t, summary.FailedContacts)
	assert.Equal(t, 2, summary.BatchesCompleted)
	assert.Len(t, summary.Contacts, 2)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestRunner_DefersClaimedContacts(t *testing.T) {
	dir := t.TempDir()
	other, err := claims.NewManager(dir, "other-worker", time.Hour)
	require.NoError(t, err)
	_, err = other.Acquire("CNT-1")
	require.NoError(t, err)

	mine, err := claims.NewManager(dir, "this-worker", time.Hour)
	require.NoError(t, err)

	backend := newMemBackend(
		record("r1", "CNT-1", "call_note", "", "Note one.", 1),
		record("r2", "CNT-2", "call_note", "", "Note two.", 2),
	)
	gen := &scriptedGenerator{script: []genReply{{text: `{"personal": "x"}`}}}
	p := newTestProcessor(t, backend, gen)

	r := NewRunner(p, mine, nil, 2)
	summary, err := r.Run(context.Background(), "run-1", []string{"CNT-1", "CNT-2"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.DeferredContacts)
	assert.Equal(t, 1, summary.SuccessfulContacts)

	// The deferred contact's records are untouched.
	assert.False(t, backend.processed["r1"])
	assert.True(t, backend.processed["r2"])
}

func TestRunner_ReleasesClaimsAfterProcessing(t *testing.T) {
	dir := t.TempDir()
	mgr, err := claims.NewManager(dir, "worker", time.Hour)
	require.NoError(t, err)

	backend := newMemBackend(record("r1", "CNT-1", "call_note", "", "Note.", 1))
	gen := &scriptedGenerator{script: []genReply{{text: `{"personal": "x"}`}}}
	p := newTestProcessor(t, backend, gen)

	r := NewRunner(p, mgr, nil, 1)
	_, err = r.Run(context.Background(), "run-1", []string{"CNT-1"})
	require.NoError(t, err)

	held, err := mgr.List()
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestRunner_FailedContactIsCounted(t *testing.T) {
	backend := newMemBackend(record("r1", "CNT-1", "call_note", "", "Note.", 1))
	gen := &scriptedGenerator{script: []genReply{{text: "unparseable"}}}
	p := newTestProcessor(t, backend, gen)

	r := NewRunner(p, nil, nil, 1)
	summary, err := r.Run(context.Background(), "run-1", []string{"CNT-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedContacts)
	assert.Zero(t, summary.SuccessfulContacts)
}

func TestRunner_WritesRunArtifacts(t *testing.T) {
	dir := t.TempDir()
	writer, err := runlog.NewWriter(dir, "run-9")
	require.NoError(t, err)

	backend := newMemBackend(record("r1", "CNT-1", "call_note", "", "Note.", 1))
	gen := &scriptedGenerator{script: []genReply{{text: `{"personal": "x"}`}}}
	p := newTestProcessor(t, backend, gen)

	r := NewRunner(p, nil, writer, 1)
	_, err = r.Run(context.Background(), "run-9", []string{"CNT-1"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "run-9", "summary.json"))
	require.NoError(t, err)
	var summary model.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "run-9", summary.RunID)
	assert.Equal(t, 1, summary.SuccessfulContacts)

	_, err = os.Stat(filepath.Join(dir, "run-9", "contacts", "CNT-1.json"))
	require.NoError(t, err)

	events, err := os.ReadFile(filepath.Join(dir, "run-9", "events.ndjson"))
	require.NoError(t, err)
	assert.Contains(t, string(events), "contact_started")
	assert.Contains(t, string(events), "contact_finished")
}
