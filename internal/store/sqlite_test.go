package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insights-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "insights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testInsight(contactID string, version int) *model.Insight {
	return &model.Insight{
		ContactID:        contactID,
		SyntheticID:      model.SyntheticID(contactID),
		MemberName:       "Alex Morgan",
		Sections:         model.Sections{Personal: "Has two kids."},
		SourceTypes:      []string{"airtable_notes"},
		TotalRecordsSeen: 3,
		RecordCount:      3,
		Version:          version,
		IsLatest:         true,
		GeneratedAt:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStore_GetLatest_Absent(t *testing.T) {
	s := newTestSQLiteStore(t)

	ins, err := s.GetLatest(context.Background(), "CNT-100001")
	require.NoError(t, err)
	assert.Nil(t, ins)
}

func TestSQLiteStore_CommitAndGetLatest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitVersion(ctx, testInsight("CNT-100001", 1)))

	ins, err := s.GetLatest(ctx, "CNT-100001")
	require.NoError(t, err)
	require.NotNil(t, ins)
	assert.Equal(t, 1, ins.Version)
	assert.True(t, ins.IsLatest)
	assert.Equal(t, "COMBINED-CNT-100001-ALL", ins.SyntheticID)
	assert.Equal(t, "Has two kids.", ins.Sections.Personal)
	assert.Equal(t, []string{"airtable_notes"}, ins.SourceTypes)
}

func TestSQLiteStore_CommitVersion_FlipsLatest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		ins := testInsight("CNT-100001", v)
		ins.Sections.Personal = "version content"
		require.NoError(t, s.CommitVersion(ctx, ins))

		latest, err := s.GetLatest(ctx, "CNT-100001")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, v, latest.Version)
	}

	history, err := s.History(ctx, "CNT-100001")
	require.NoError(t, err)
	require.Len(t, history, 3)
	latestCount := 0
	for i, ins := range history {
		assert.Equal(t, i+1, ins.Version)
		if ins.IsLatest {
			latestCount++
		}
	}
	assert.Equal(t, 1, latestCount, "exactly one version must be latest")
}

func TestSQLiteStore_ListLatest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitVersion(ctx, testInsight("CNT-100001", 1)))
	require.NoError(t, s.CommitVersion(ctx, testInsight("CNT-100002", 1)))
	second := testInsight("CNT-100001", 2)
	require.NoError(t, s.CommitVersion(ctx, second))

	latest, err := s.ListLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, ins := range latest {
		assert.True(t, ins.IsLatest)
	}
}

func testRecords(contactID string) []model.SourceRecord {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return []model.SourceRecord{
		{RecordID: "rec-1", ContactID: contactID, Description: "Met at the summit", LoggedAt: base, SourceType: "airtable_notes"},
		{RecordID: "rec-2", ContactID: contactID, Description: "Asked about co-investing", LoggedAt: base.Add(time.Hour), SourceType: "airtable_notes"},
		{RecordID: "rec-3", ContactID: contactID, Description: "Trip to Kyoto", LoggedAt: base.Add(2 * time.Hour), SourceType: "whatsapp_messages", SourceSubtype: "travel"},
	}
}

func TestSQLiteStore_SourceLogRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := s.InsertRecords(ctx, testRecords("CNT-100001"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	batch, err := s.FetchBatch(ctx, "CNT-100001", "airtable_notes", "")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "rec-1", batch[0].RecordID, "ordered by logged_at")

	sub, err := s.FetchBatch(ctx, "CNT-100001", "whatsapp_messages", "travel")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "rec-3", sub[0].RecordID)

	require.NoError(t, s.MarkProcessed(ctx, []string{"rec-1", "rec-2"}))

	batch, err = s.FetchBatch(ctx, "CNT-100001", "airtable_notes", "")
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Re-inserting a processed record must not reset its flag.
	_, err = s.InsertRecords(ctx, testRecords("CNT-100001")[:1])
	require.NoError(t, err)
	batch, err = s.FetchBatch(ctx, "CNT-100001", "airtable_notes", "")
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSQLiteStore_MarkProcessed_Idempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.InsertRecords(ctx, testRecords("CNT-100001"))
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, []string{"rec-1"}))
	require.NoError(t, s.MarkProcessed(ctx, []string{"rec-1"}))
	require.NoError(t, s.MarkProcessed(ctx, nil))
}

func TestSQLiteStore_PendingContacts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.InsertRecords(ctx, testRecords("CNT-100002"))
	require.NoError(t, err)
	later := testRecords("CNT-100001")
	for i := range later {
		later[i].RecordID = "b-" + later[i].RecordID
		later[i].LoggedAt = later[i].LoggedAt.Add(24 * time.Hour)
	}
	_, err = s.InsertRecords(ctx, later)
	require.NoError(t, err)

	contacts, err := s.PendingContacts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"CNT-100002", "CNT-100001"}, contacts, "oldest pending first")

	require.NoError(t, s.MarkProcessed(ctx, []string{"rec-1", "rec-2", "rec-3"}))
	contacts, err = s.PendingContacts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"CNT-100001"}, contacts)
}
