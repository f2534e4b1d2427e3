package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/claims"
	"github.com/sells-group/insights-cli/internal/contextbuild"
	"github.com/sells-group/insights-cli/internal/processor"
	"github.com/sells-group/insights-cli/internal/runlog"
	"github.com/sells-group/insights-cli/internal/store"
	syncpkg "github.com/sells-group/insights-cli/internal/sync"
	"github.com/sells-group/insights-cli/internal/tokens"
	anthropicpkg "github.com/sells-group/insights-cli/pkg/anthropic"
	"github.com/sells-group/insights-cli/pkg/notion"
	"github.com/sells-group/insights-cli/pkg/salesforce"
)

// env bundles the wired collaborators for one command invocation.
type env struct {
	backend store.Backend
	builder *contextbuild.Builder
	proc    *processor.Processor
	claimer *claims.Manager
}

func (e *env) Close() {
	if err := e.backend.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initStore opens and migrates the configured backend.
func initStore(ctx context.Context) (store.Backend, error) {
	backend, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := backend.Migrate(ctx); err != nil {
		backend.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return backend, nil
}

// initBuilder loads the prompt template and guidance mapping.
func initBuilder() (*contextbuild.Builder, error) {
	tmpl, err := contextbuild.LoadTemplate(cfg.Processing.PromptTemplatePath)
	if err != nil {
		return nil, eris.Wrap(err, "load prompt template")
	}

	guidance := contextbuild.EmptyGuidance()
	if cfg.Processing.GuidanceMappingPath != "" {
		g, err := contextbuild.LoadGuidanceMapping(cfg.Processing.GuidanceMappingPath)
		if err != nil {
			zap.L().Warn("guidance mapping unavailable, proceeding without",
				zap.String("path", cfg.Processing.GuidanceMappingPath),
				zap.Error(err))
		} else {
			guidance = g
		}
	}

	return contextbuild.NewBuilder(tmpl, guidance, tokens.NewEstimator(), contextbuild.Budget{
		ContextWindowTokens: cfg.Processing.ContextWindowTokens,
		ReserveOutputTokens: cfg.Processing.ReserveOutputTokens,
		MaxNewDataTokens:    cfg.Processing.MaxNewDataTokensPerBatch,
		OverheadTokens:      cfg.Processing.OverheadTokens,
	}), nil
}

// initSyncer wires whichever downstream destinations are configured. A
// misconfigured Salesforce summary field fails here, before any processing,
// rather than on the first contact write.
func initSyncer(ctx context.Context) (*syncpkg.Syncer, error) {
	var opts []syncpkg.Option

	if cfg.Notion.Token != "" && cfg.Notion.SummaryDB != "" {
		opts = append(opts, syncpkg.WithNotion(notion.NewClient(cfg.Notion.Token), cfg.Notion.SummaryDB))
	}

	if cfg.Salesforce.ClientID != "" {
		sfClient, err := salesforce.Connect(
			cfg.Salesforce.LoginURL,
			cfg.Salesforce.ClientID,
			cfg.Salesforce.Username,
			cfg.Salesforce.KeyPath,
		)
		if err != nil {
			return nil, eris.Wrap(err, "salesforce connect")
		}
		if err := salesforce.ValidateSummaryField(ctx, sfClient, cfg.Salesforce.SummaryField); err != nil {
			return nil, eris.Wrapf(err, "salesforce summary field %s", cfg.Salesforce.SummaryField)
		}
		opts = append(opts, syncpkg.WithSalesforce(sfClient, cfg.Salesforce.SummaryField))
	}

	return syncpkg.New(opts...), nil
}

// initClaimer builds the claim manager, or nil when claims are disabled.
func initClaimer() (*claims.Manager, error) {
	if !cfg.Claims.Enabled {
		return nil, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return claims.NewManager(cfg.Claims.Dir, hostname, cfg.Claims.TTL())
}

// initEnv wires the full processing environment.
func initEnv(ctx context.Context, onEvent func(runlog.Event)) (*env, error) {
	backend, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	builder, err := initBuilder()
	if err != nil {
		backend.Close() //nolint:errcheck
		return nil, err
	}

	syncer, err := initSyncer(ctx)
	if err != nil {
		backend.Close() //nolint:errcheck
		return nil, err
	}

	gen := anthropicpkg.NewGenerator(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxOutputTokens,
		cfg.Anthropic.Temperature,
		"",
	)

	proc, err := processor.New(processor.Options{
		Backend:   backend,
		Builder:   builder,
		Generator: gen,
		Syncer:    syncer,
		Sources:   cfg.Processing.Sources,
		Model:     cfg.Anthropic.Model,
		OnEvent:   onEvent,
	})
	if err != nil {
		backend.Close() //nolint:errcheck
		return nil, err
	}

	claimer, err := initClaimer()
	if err != nil {
		backend.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "init claim manager")
	}

	return &env{backend: backend, builder: builder, proc: proc, claimer: claimer}, nil
}
