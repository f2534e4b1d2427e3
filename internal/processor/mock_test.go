package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/pkg/anthropic"
)

// memBackend is an in-memory store.Backend for orchestration tests.
type memBackend struct {
	mu        sync.Mutex
	latest    map[string]*model.Insight
	history   map[string][]model.Insight
	records   []model.SourceRecord
	processed map[string]bool

	failGetLatest error
	failFetch     error
	failCommit    error
	failMark      error
}

func newMemBackend(records ...model.SourceRecord) *memBackend {
	return &memBackend{
		latest:    map[string]*model.Insight{},
		history:   map[string][]model.Insight{},
		records:   records,
		processed: map[string]bool{},
	}
}

func (b *memBackend) GetLatest(_ context.Context, contactID string) (*model.Insight, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failGetLatest != nil {
		return nil, b.failGetLatest
	}
	ins, ok := b.latest[contactID]
	if !ok {
		return nil, nil
	}
	cp := *ins
	return &cp, nil
}

func (b *memBackend) CommitVersion(_ context.Context, insight *model.Insight) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCommit != nil {
		return b.failCommit
	}
	cp := *insight
	b.latest[insight.ContactID] = &cp
	b.history[insight.ContactID] = append(b.history[insight.ContactID], cp)
	return nil
}

func (b *memBackend) ListLatest(_ context.Context, _ int) ([]model.Insight, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Insight
	for _, ins := range b.latest {
		out = append(out, *ins)
	}
	return out, nil
}

func (b *memBackend) History(_ context.Context, contactID string) ([]model.Insight, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Insight(nil), b.history[contactID]...), nil
}

func (b *memBackend) Migrate(context.Context) error { return nil }
func (b *memBackend) Close() error                  { return nil }

func (b *memBackend) InsertRecords(_ context.Context, records []model.SourceRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, records...)
	return int64(len(records)), nil
}

func (b *memBackend) FetchBatch(_ context.Context, contactID, sourceType, subtype string) ([]model.SourceRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFetch != nil {
		return nil, b.failFetch
	}
	var out []model.SourceRecord
	for _, r := range b.records {
		if r.ContactID != contactID || r.SourceType != sourceType || r.SourceSubtype != subtype {
			continue
		}
		if b.processed[r.RecordID] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].LoggedAt.Before(out[j].LoggedAt)
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}

func (b *memBackend) MarkProcessed(_ context.Context, recordIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMark != nil {
		return b.failMark
	}
	for _, id := range recordIDs {
		b.processed[id] = true
	}
	return nil
}

func (b *memBackend) PendingContacts(_ context.Context, limit int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[string]bool{}
	var pending []model.SourceRecord
	for _, r := range b.records {
		if b.processed[r.RecordID] {
			continue
		}
		pending = append(pending, r)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].LoggedAt.Before(pending[j].LoggedAt)
	})
	var out []string
	for _, r := range pending {
		if seen[r.ContactID] {
			continue
		}
		seen[r.ContactID] = true
		out = append(out, r.ContactID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// scriptedGenerator returns canned outputs in call order. When the script
// runs out it keeps returning the last entry.
type scriptedGenerator struct {
	mu      sync.Mutex
	script  []genReply
	calls   int
	prompts []string
}

type genReply struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, anthropic.TokenUsage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	idx := g.calls
	g.calls++
	if idx >= len(g.script) {
		if len(g.script) == 0 {
			return "", anthropic.TokenUsage{}, fmt.Errorf("scriptedGenerator: empty script")
		}
		idx = len(g.script) - 1
	}
	reply := g.script[idx]
	return reply.text, anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50}, reply.err
}
