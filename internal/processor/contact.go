// Package processor orchestrates member-insight generation: per-contact batch
// sequencing, generation with retry, merge, commit, and downstream sync.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/config"
	"github.com/sells-group/insights-cli/internal/contextbuild"
	"github.com/sells-group/insights-cli/internal/insights"
	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/internal/resilience"
	"github.com/sells-group/insights-cli/internal/runlog"
	"github.com/sells-group/insights-cli/internal/store"
	"github.com/sells-group/insights-cli/internal/sync"
	"github.com/sells-group/insights-cli/pkg/anthropic"
)

// TextGenerator produces raw insight text from a rendered prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, anthropic.TokenUsage, error)
}

// Options wires a Processor's collaborators. Backend, Builder, Generator and
// Sources are required; the rest are optional.
type Options struct {
	Backend   store.Backend
	Builder   *contextbuild.Builder
	Generator TextGenerator
	Syncer    *sync.Syncer
	Sources   []config.SourceRule
	Retry     resilience.RetryConfig

	// Model is the generation model name, used for cost attribution logging.
	Model string

	// OnEvent receives progress events when set. Called from the processing
	// goroutine; implementations must be safe for concurrent use.
	OnEvent func(ev runlog.Event)
}

// Processor turns a contact's unprocessed source records into new versions of
// its consolidated insight. One batch failure never aborts sibling batches.
type Processor struct {
	opts Options
	now  func() time.Time
}

// New validates the options and builds a Processor.
func New(opts Options) (*Processor, error) {
	if opts.Backend == nil {
		return nil, errors.New("processor: backend is required")
	}
	if opts.Builder == nil {
		return nil, errors.New("processor: builder is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("processor: generator is required")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New("processor: at least one source rule is required")
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = shouldRetryGeneration
	}
	return &Processor{opts: opts, now: time.Now}, nil
}

// shouldRetryGeneration retries transient infrastructure failures and
// retryable API statuses. Parse and validation failures are terminal.
func shouldRetryGeneration(err error) bool {
	return resilience.IsTransient(err) || anthropic.IsRetryable(err)
}

// BatchKeys expands the configured source rules into the fixed processing
// order: for each source type, the null-subtype batch first, then the named
// subtypes in configured order.
func BatchKeys(sources []config.SourceRule) []model.BatchKey {
	var keys []model.BatchKey
	for _, rule := range sources {
		keys = append(keys, model.BatchKey{SourceType: rule.Type})
		for _, sub := range rule.Subtypes {
			keys = append(keys, model.BatchKey{SourceType: rule.Type, Subtype: sub})
		}
	}
	return keys
}

// ProcessContact runs every configured batch for one contact in order. A
// failure loading the current consolidated record is fatal for the contact;
// everything after that is absorbed into the summary.
func (p *Processor) ProcessContact(ctx context.Context, contactID string) model.ContactSummary {
	summary := model.ContactSummary{ContactID: contactID}
	log := zap.L().With(zap.String("contact_id", contactID))

	latest, err := p.opts.Backend.GetLatest(ctx, contactID)
	if err != nil {
		log.Error("failed to load latest insight", zap.Error(err))
		summary.Fatal = true
		summary.Errors = append(summary.Errors, fmt.Sprintf("load latest: %v", err))
		return summary
	}

	committed := false
	for _, key := range BatchKeys(p.opts.Sources) {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("cancelled before %s: %v", key, ctx.Err()))
			break
		}

		next, outcome := p.processBatch(ctx, contactID, key, latest, &summary)
		if next != nil {
			latest = next
			committed = true
		}
		p.emit(runlog.Event{
			Kind:      "batch_" + outcome,
			ContactID: contactID,
			Batch:     key.String(),
		})
	}

	if committed && p.opts.Syncer != nil && p.opts.Syncer.Enabled() {
		res := p.opts.Syncer.Sync(ctx, latest)
		if res.NotionFailed > 0 || res.SalesforceFailed > 0 {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("sync: %d notion, %d salesforce failures", res.NotionFailed, res.SalesforceFailed))
		}
	}

	return summary
}

// processBatch runs one (source_type, subtype) batch. It returns the newly
// committed insight version, or nil when the batch was empty, skipped, or
// failed, plus an outcome label for the event stream.
func (p *Processor) processBatch(
	ctx context.Context,
	contactID string,
	key model.BatchKey,
	latest *model.Insight,
	summary *model.ContactSummary,
) (*model.Insight, string) {
	log := zap.L().With(
		zap.String("contact_id", contactID),
		zap.String("batch", key.String()),
	)

	records, err := p.opts.Backend.FetchBatch(ctx, contactID, key.SourceType, key.Subtype)
	if err != nil {
		log.Error("fetch batch failed", zap.Error(err))
		summary.BatchesFailed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: fetch: %v", key, err))
		return nil, "failed"
	}
	if len(records) == 0 {
		return nil, "empty"
	}

	currentSummary := ""
	if latest != nil {
		currentSummary = latest.Sections.Markdown()
	}

	built, err := p.opts.Builder.Build(contextbuild.BuildInput{
		Batch:          key,
		CurrentSummary: currentSummary,
		Records:        records,
	})
	if err != nil {
		summary.BatchesFailed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: build: %v", key, err))
		return nil, "failed"
	}
	if built.Skipped {
		log.Info("batch skipped, no token budget for new data",
			zap.Int("records", len(records)))
		summary.BatchesSkipped++
		summary.RecordsSkipped += len(records)
		return nil, "skipped"
	}

	start := p.now()
	type genResult struct {
		text  string
		usage anthropic.TokenUsage
	}
	retry := p.opts.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", "generate "+key.String())
	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (genResult, error) {
		text, usage, err := p.opts.Generator.Generate(ctx, built.Prompt)
		return genResult{text: text, usage: usage}, err
	})
	if err != nil {
		log.Error("generation failed", zap.Error(err))
		summary.BatchesFailed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: generate: %v", key, err))
		return nil, "failed"
	}
	elapsed := p.now().Sub(start).Seconds()

	sections, err := insights.Parse(res.text)
	if err != nil {
		log.Error("unparseable generation output", zap.Error(err))
		summary.BatchesFailed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: parse: %v", key, err))
		return nil, "failed"
	}

	next := insights.Merge(latest, contactID, insights.BatchOutcome{
		Batch:             key,
		Sections:          sections,
		RecordsIncluded:   len(built.IncludedIDs),
		RecordsInBatch:    len(records),
		EstInputTokens:    built.Stats.RenderedFullTokens,
		EstInsightsTokens: int(res.usage.OutputTokens),
		GenerationSeconds: elapsed,
	}, p.now())

	if err := p.opts.Backend.CommitVersion(ctx, next); err != nil {
		log.Error("commit failed, records stay unprocessed", zap.Error(err))
		summary.BatchesFailed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: commit: %v", key, err))
		return nil, "failed"
	}

	if err := p.opts.Backend.MarkProcessed(ctx, built.IncludedIDs); err != nil {
		// The version is committed; unmarked records will be re-fetched and
		// re-appended next run.
		log.Warn("mark processed failed after commit", zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: mark processed: %v", key, err))
	}

	summary.BatchesCompleted++
	summary.RecordsProcessed += len(built.IncludedIDs)
	summary.RecordsSkipped += len(records) - len(built.IncludedIDs)
	summary.EstInputTokens += built.Stats.RenderedFullTokens
	summary.EstInsightsTokens += int(res.usage.OutputTokens)
	summary.GenerationSeconds += elapsed

	log.Info("batch committed",
		zap.Int("version", next.Version),
		zap.Int("records_included", len(built.IncludedIDs)),
		zap.Int("records_in_batch", len(records)),
		zap.Float64("generation_seconds", elapsed),
	)
	res.usage.LogCost(p.opts.Model, contactID)

	return next, "completed"
}

func (p *Processor) emit(ev runlog.Event) {
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(ev)
	}
}
