package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/engine"
	"github.com/hostplane/provision/internal/events"
	"github.com/hostplane/provision/internal/hostfacts"
	"github.com/hostplane/provision/internal/logger"
	"github.com/hostplane/provision/internal/report"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// setup holds everything shared by the provision and plan commands: the
// parsed catalog, resolved parameters, and the execution plan.
type setup struct {
	Catalog *config.Catalog
	Params  map[string]string
	Plan    *engine.Plan
	Log     *logger.Logger
}

func runProvision(cmd *cobra.Command, flags *rootFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := prepare(flags)
	if err != nil {
		return err
	}

	facts, err := hostfacts.Gather(ctx)
	if err != nil {
		return proverrors.NewActionError("", fmt.Errorf("gather host facts: %w", err))
	}

	runID := uuid.NewString()
	s.Log.WithFields(map[string]any{
		"run_id":  runID,
		"catalog": s.Catalog.Name,
		"actions": s.Plan.Size(),
		"dry_run": flags.dryRun,
	}).Info("starting run")

	execCtx := &engine.ExecutionContext{
		Catalog:  s.Catalog,
		Params:   s.Params,
		Facts:    facts,
		Registry: newRegistry(),
		DryRun:   flags.dryRun,
		Logger:   s.Log,
		Emitter:  events.NewLineEmitter(cmd.OutOrStdout(), s.Log, runID),
		Context:  ctx,
	}

	start := time.Now()
	results, execErr := engine.Execute(execCtx, s.Plan)

	summary := report.Summarize(results, time.Since(start))
	report.Render(cmd.ErrOrStderr(), summary)

	if execErr != nil {
		return execErr
	}
	// Non-fatal failures do not abort the run but still fail it.
	if summary.HasFailures() {
		return proverrors.NewActionError("", fmt.Errorf("%d action(s) failed", summary.Failed))
	}
	return nil
}

// prepare parses and validates everything before any action runs, so a bad
// catalog or missing parameter fails the run with no host changes.
func prepare(flags *rootFlags) (*setup, error) {
	if flags.configPath == "" {
		return nil, proverrors.NewConfigError("config", "--config is required", nil)
	}

	log, err := newLogger(flags.verbose)
	if err != nil {
		return nil, proverrors.NewConfigError("logging", err.Error(), err)
	}

	catalog, err := config.ParseCatalog(flags.configPath)
	if err != nil {
		return nil, err
	}

	// Secrets may live in a dotenv file next to the catalog. An explicit
	// --env-file must exist; the default .env is best-effort.
	envFile := flags.envFile
	optional := envFile == ""
	if optional {
		envFile = filepath.Join(filepath.Dir(flags.configPath), ".env")
	}
	if err := config.LoadEnvFile(envFile, optional); err != nil {
		return nil, err
	}

	profile := &config.Profile{}
	if flags.profilePath != "" {
		profile, err = config.ParseProfile(flags.profilePath)
		if err != nil {
			return nil, err
		}
	}

	params, err := config.ResolveParams(catalog, profile)
	if err != nil {
		return nil, err
	}

	graph, err := engine.BuildDAG(catalog.Actions)
	if err != nil {
		return nil, err
	}

	plan, err := engine.GeneratePlan(graph, flags.only)
	if err != nil {
		return nil, err
	}

	return &setup{Catalog: catalog, Params: params, Plan: plan, Log: log}, nil
}

func newLogger(verbose bool) (*logger.Logger, error) {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logger.New(logger.Options{
		Level:         level,
		HumanReadable: term.IsTerminal(int(os.Stderr.Fd())),
		Writer:        os.Stderr,
	})
}
