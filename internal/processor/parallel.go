package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insights-cli/internal/claims"
	"github.com/sells-group/insights-cli/internal/model"
	"github.com/sells-group/insights-cli/internal/runlog"
)

// Runner processes many contacts concurrently. Each contact is independent:
// one contact's failure never stops the others, and a contact already claimed
// by another worker is deferred, not failed.
type Runner struct {
	proc          *Processor
	claimer       *claims.Manager
	writer        *runlog.Writer
	maxConcurrent int
	now           func() time.Time
}

// NewRunner builds a Runner. claimer may be nil when claim coordination is
// disabled; writer may be nil when no run artifacts are wanted.
func NewRunner(proc *Processor, claimer *claims.Manager, writer *runlog.Writer, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		proc:          proc,
		claimer:       claimer,
		writer:        writer,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Run processes the given contacts with bounded concurrency and returns the
// aggregated run summary. The only error it returns is context cancellation;
// per-contact outcomes live in the summary.
func (r *Runner) Run(ctx context.Context, runID string, contactIDs []string) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		RunID:         runID,
		TotalContacts: len(contactIDs),
		StartedAt:     r.now().UTC(),
	}

	var mu sync.Mutex
	record := func(cs model.ContactSummary, deferred bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case deferred:
			summary.DeferredContacts++
		case cs.Succeeded():
			summary.SuccessfulContacts++
		default:
			summary.FailedContacts++
		}
		summary.BatchesCompleted += cs.BatchesCompleted
		summary.BatchesSkipped += cs.BatchesSkipped
		summary.BatchesFailed += cs.BatchesFailed
		summary.RecordsProcessed += cs.RecordsProcessed
		summary.Contacts = append(summary.Contacts, cs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for _, contactID := range contactIDs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			cs, deferred := r.runContact(gctx, contactID)
			record(cs, deferred)
			if r.writer != nil {
				if !deferred {
					if err := r.writer.WriteContactSummary(cs); err != nil {
						zap.L().Warn("failed to write contact summary", zap.Error(err))
					}
				}
			}
			return nil
		})
	}

	err := g.Wait()
	summary.FinishedAt = r.now().UTC()

	if r.writer != nil {
		if werr := r.writer.WriteFinalSummary(*summary); werr != nil {
			zap.L().Warn("failed to write run summary", zap.Error(werr))
		}
	}

	zap.L().Info("run finished",
		zap.String("run_id", runID),
		zap.Int("total", summary.TotalContacts),
		zap.Int("succeeded", summary.SuccessfulContacts),
		zap.Int("failed", summary.FailedContacts),
		zap.Int("deferred", summary.DeferredContacts),
		zap.Int("batches_completed", summary.BatchesCompleted),
	)

	return summary, err
}

// runContact claims, processes, and releases one contact. The second return
// is true when the contact was deferred because another worker holds it.
func (r *Runner) runContact(ctx context.Context, contactID string) (model.ContactSummary, bool) {
	r.emit(runlog.Event{Kind: "contact_started", ContactID: contactID})

	if r.claimer != nil {
		claim, err := r.claimer.Acquire(contactID)
		if err != nil {
			if errors.Is(err, claims.ErrAlreadyClaimed) {
				zap.L().Info("contact claimed by another worker, deferring",
					zap.String("contact_id", contactID))
				r.emit(runlog.Event{Kind: "contact_deferred", ContactID: contactID})
				return model.ContactSummary{ContactID: contactID}, true
			}
			zap.L().Error("claim acquisition failed", zap.String("contact_id", contactID), zap.Error(err))
			r.emit(runlog.Event{Kind: "contact_failed", ContactID: contactID, Detail: err.Error()})
			return model.ContactSummary{
				ContactID: contactID,
				Fatal:     true,
				Errors:    []string{"claim: " + err.Error()},
			}, false
		}
		defer func() {
			if err := r.claimer.Release(claim); err != nil {
				zap.L().Warn("claim release failed", zap.String("contact_id", contactID), zap.Error(err))
			}
		}()
	}

	cs := r.proc.ProcessContact(ctx, contactID)

	kind := "contact_finished"
	if !cs.Succeeded() {
		kind = "contact_failed"
	}
	r.emit(runlog.Event{Kind: kind, ContactID: contactID})

	return cs, false
}

func (r *Runner) emit(ev runlog.Event) {
	if r.writer == nil {
		return
	}
	if err := r.writer.AppendEvent(ev); err != nil {
		zap.L().Warn("failed to append run event", zap.Error(err))
	}
}
