package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostplane/provision/internal/engine"
	"github.com/hostplane/provision/internal/events"
	"github.com/hostplane/provision/internal/hostfacts"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

// newPlanCmd builds the plan subcommand: a probe-only pass that prints the
// execution levels and each action's projected status, applying nothing.
func newPlanCmd(flags *rootFlags) *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan and projected changes without applying",
		RunE: func(cmd *cobra.Command, args []string) error {
			planFlags := *flags
			planFlags.only = only
			return runPlan(cmd, &planFlags)
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "Plan only the named actions and their dependencies")

	return cmd
}

func runPlan(cmd *cobra.Command, flags *rootFlags) error {
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

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "catalog: %s (%d actions planned)\n", s.Catalog.Name, s.Plan.Size())
	fmt.Fprint(out, s.Plan.String())

	execCtx := &engine.ExecutionContext{
		Catalog:  s.Catalog,
		Params:   s.Params,
		Facts:    facts,
		Registry: newRegistry(),
		DryRun:   true,
		Logger:   s.Log,
		Emitter:  events.Discard{},
		Context:  ctx,
	}

	start := time.Now()
	results, execErr := engine.Execute(execCtx, s.Plan)

	fmt.Fprintln(out, "projected:")
	changes := 0
	for _, res := range results {
		fmt.Fprintf(out, "  %-12s %-24s %s\n", res.Status, res.ActionID, res.Message)
		if res.Status == model.StatusWouldApply {
			changes++
		}
	}
	fmt.Fprintf(out, "%d change(s) projected in %s\n", changes, time.Since(start).Round(time.Millisecond))

	return execErr
}
