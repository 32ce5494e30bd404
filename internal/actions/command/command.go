// Package commandaction executes shell commands. The optional check command
// is the probe: exit 0 means the target state holds, non-zero means apply
// must run. Without a check the action always applies, so catalogs should
// pair imperative commands with a cheap check to stay idempotent.
package commandaction

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/actions/execwrap"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

type commandAction struct{}

// New creates the command action implementation.
func New() action.Action {
	return &commandAction{}
}

var _ action.Action = (*commandAction)(nil)

func (a *commandAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "command",
		Type:        "command",
		Version:     "1.0.0",
		Description: "Executes shell commands with a check command as the probe.",
	}
}

func (a *commandAction) Schema() any {
	return config.CommandAction{}
}

func (a *commandAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	cfg, err := loadConfig(req, req.Params)
	if err != nil {
		return nil, err
	}

	if cfg.Check == "" {
		return &model.ProbeResult{
			ActionID: req.Spec.ID,
			Status:   model.StatusAbsent,
			Message:  "no check command, apply always runs",
			Diff:     fmt.Sprintf("would run: %s", cfg.Command),
		}, nil
	}

	res, err := runShell(ctx, cfg, cfg.Check)
	if err != nil {
		if execwrap.ExitedNonZero(err) {
			return &model.ProbeResult{
				ActionID: req.Spec.ID,
				Status:   model.StatusAbsent,
				Message:  "check command exited non-zero",
				Diff:     fmt.Sprintf("would run: %s", cfg.Command),
			}, nil
		}
		return nil, proverrors.NewProbeError(req.Spec.ID, fmt.Errorf("check command: %w", err))
	}

	message := "check command succeeded"
	if res.Stdout != "" {
		message = res.Stdout
	}
	return &model.ProbeResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusPresent,
		Message:  message,
	}, nil
}

func (a *commandAction) Apply(ctx context.Context, req *action.Request, _ *model.ProbeResult) (*model.ActionResult, error) {
	cfg, err := loadConfig(req, req.Params)
	if err != nil {
		return nil, err
	}

	res, err := runShell(ctx, cfg, cfg.Command)
	if err != nil {
		if out := execwrap.PrimaryOutput(res); out != "" {
			err = fmt.Errorf("%w: %s", err, out)
		}
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusApplied,
		Message:  "command executed",
	}, nil
}

// loadConfig returns a rendered copy so parameter expansion never mutates
// the shared catalog.
func loadConfig(req *action.Request, params map[string]string) (*config.CommandAction, error) {
	if req.Spec.Command == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("command configuration missing"))
	}

	cfg := *req.Spec.Command
	if err := config.RenderAll(params, &cfg.Command, &cfg.Check, &cfg.WorkDir); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}
	return &cfg, nil
}

func runShell(ctx context.Context, cfg *config.CommandAction, script string) (execwrap.Result, error) {
	shell := cfg.Shell
	if shell == "" {
		path, err := exec.LookPath("bash")
		if err != nil {
			path, err = exec.LookPath("sh")
			if err != nil {
				return execwrap.Result{}, fmt.Errorf("no suitable shell found")
			}
		}
		shell = path
	}

	cmd := execwrap.Command(ctx, cfg.WorkDir, cfg.Env, shell, "-c", script)
	return execwrap.Run(cmd)
}
