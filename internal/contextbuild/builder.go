package contextbuild

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/internal/tokens"
)

// Budget bounds prompt assembly. Read-only during a run.
type Budget struct {
	ContextWindowTokens int
	ReserveOutputTokens int
	MaxNewDataTokens    int
	OverheadTokens      int
}

// BuildInput carries everything needed to assemble one batch's prompt.
type BuildInput struct {
	Batch          model.BatchKey
	CurrentSummary string
	Records        []model.SourceRecord
}

// TokenStats reports the budget arithmetic for one build.
type TokenStats struct {
	BaseTokens          int `json:"base_tokens"`
	AvailableForNewData int `json:"available_for_new_data"`
	NewDataTokensUsed   int `json:"new_data_tokens_used"`
	RenderedFullTokens  int `json:"rendered_full_tokens"`
	RowsIncluded        int `json:"rows_included"`
	RowsTotal           int `json:"rows_total"`
}

// BuildResult is the outcome of assembling one batch's prompt. Skipped means
// the budget left no room for new data; the batch must not reach the
// generation collaborator.
type BuildResult struct {
	Prompt      string
	IncludedIDs []string
	Skipped     bool
	Stats       TokenStats
}

// Builder assembles token-budgeted prompts. Deterministic: identical inputs
// yield an identical included-record set and identical token statistics.
type Builder struct {
	tmpl     *Template
	guidance *GuidanceMapping
	est      tokens.Estimator
	budget   Budget
}

// NewBuilder wires a validated template, guidance mapping, estimator and
// budget into a Builder.
func NewBuilder(tmpl *Template, guidance *GuidanceMapping, est tokens.Estimator, budget Budget) *Builder {
	if guidance == nil {
		guidance = EmptyGuidance()
	}
	return &Builder{tmpl: tmpl, guidance: guidance, est: est, budget: budget}
}

// FormatRecord renders one source record as a description line plus a
// citation sub-line.
func FormatRecord(r model.SourceRecord) string {
	return fmt.Sprintf("- %s\n  [%s, %s, %s]\n",
		r.Description, r.LoggedAt.Format("2006-01-02"), r.RecordID, r.SourceType)
}

// Build assembles the prompt for one batch. Records are considered in their
// given order; each is wholly included or wholly excluded, and inclusion
// stops before the first record that would overflow the new-data budget.
func (b *Builder) Build(in BuildInput) (*BuildResult, error) {
	typeCtx, subtypeCtx := b.guidance.Resolve(in.Batch.SourceType, in.Batch.Subtype)

	base := b.tmpl.Render(in.CurrentSummary, typeCtx, subtypeCtx, "")
	baseTokens := b.est.Estimate(base)

	available := b.budget.ContextWindowTokens - b.budget.ReserveOutputTokens -
		baseTokens - b.budget.OverheadTokens
	if b.budget.MaxNewDataTokens < available {
		available = b.budget.MaxNewDataTokens
	}

	stats := TokenStats{
		BaseTokens:          baseTokens,
		AvailableForNewData: available,
		RowsTotal:           len(in.Records),
	}

	if available <= 0 {
		zap.L().Info("contextbuild: no token room for new data, skipping batch",
			zap.String("batch", in.Batch.String()),
			zap.Int("base_tokens", baseTokens),
			zap.Int("available", available),
		)
		return &BuildResult{Skipped: true, Stats: stats}, nil
	}

	var newData strings.Builder
	var included []string
	used := 0
	for _, rec := range in.Records {
		line := FormatRecord(rec)
		cost := b.est.Estimate(line)
		if used+cost > available {
			break
		}
		newData.WriteString(line)
		used += cost
		included = append(included, rec.RecordID)
	}

	stats.NewDataTokensUsed = used
	stats.RowsIncluded = len(included)

	if len(included) == 0 {
		// Nothing fits: generating against an empty new-data block would
		// burn a call for no progress.
		return &BuildResult{Skipped: true, Stats: stats}, nil
	}

	prompt := b.tmpl.Render(in.CurrentSummary, typeCtx, subtypeCtx, newData.String())
	stats.RenderedFullTokens = b.est.Estimate(prompt)

	return &BuildResult{
		Prompt:      prompt,
		IncludedIDs: included,
		Stats:       stats,
	}, nil
}
