// Package pkgaction installs system packages through the apt toolchain.
// Probing uses dpkg-query, which reads the package database without touching
// it, so repeated probes are safe.
package pkgaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/actions/execwrap"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

type pkgAction struct{}

// New creates the pkg action implementation.
func New() action.Action {
	return &pkgAction{}
}

var _ action.Action = (*pkgAction)(nil)

func (a *pkgAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "pkg",
		Type:        "pkg",
		Version:     "1.0.0",
		Description: "Installs system packages via apt.",
	}
}

func (a *pkgAction) Schema() any {
	return config.PkgAction{}
}

// probeData carries the per-package breakdown from Probe to Apply so apply
// only installs what is actually missing.
type probeData struct {
	Missing []string
}

func (a *pkgAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range cfg.Packages {
		installed, err := queryPackage(ctx, name)
		if err != nil {
			return nil, proverrors.NewProbeError(req.Spec.ID, fmt.Errorf("query package %s: %w", name, err))
		}
		if !installed {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return &model.ProbeResult{
			ActionID: req.Spec.ID,
			Status:   model.StatusPresent,
			Message:  fmt.Sprintf("all packages installed: %s", strings.Join(cfg.Packages, ", ")),
		}, nil
	}

	status := model.StatusAbsent
	if len(missing) < len(cfg.Packages) {
		status = model.StatusPartial
	}

	return &model.ProbeResult{
		ActionID:     req.Spec.ID,
		Status:       status,
		Message:      fmt.Sprintf("packages not installed: %s", strings.Join(missing, ", ")),
		Diff:         fmt.Sprintf("would install: %s", strings.Join(missing, ", ")),
		InternalData: &probeData{Missing: missing},
	}, nil
}

func (a *pkgAction) Apply(ctx context.Context, req *action.Request, probe *model.ProbeResult) (*model.ActionResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	// A Partial probe narrows the install to the missing packages; a full
	// install list is still idempotent but slower.
	targets := cfg.Packages
	if probe != nil {
		if data, ok := probe.InternalData.(*probeData); ok && len(data.Missing) > 0 {
			targets = data.Missing
		}
	}

	if cfg.Update {
		if err := runApt(ctx, "update"); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("apt-get update: %w", err))
		}
	}

	args := append([]string{"install", "-y"}, targets...)
	if err := runApt(ctx, args...); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("apt-get install: %w", err))
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusApplied,
		Message:  fmt.Sprintf("installed: %s", strings.Join(targets, ", ")),
	}, nil
}

func loadConfig(req *action.Request) (*config.PkgAction, error) {
	cfg := req.Spec.Pkg
	if cfg == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("pkg configuration missing"))
	}
	if req.Facts != nil && !req.Facts.Supports("apt") {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("host package manager %q is not supported, apt is required", req.Facts.PackageManager))
	}
	return cfg, nil
}

func queryPackage(ctx context.Context, name string) (bool, error) {
	cmd := execwrap.Command(ctx, "", nil, "dpkg-query", "-W", "-f", "${Status}", name)
	res, err := execwrap.Run(cmd)
	if err != nil {
		if execwrap.ExitedNonZero(err) {
			return false, nil
		}
		return false, err
	}
	// dpkg keeps removed-but-configured entries in its database; only
	// "install ok installed" counts as present.
	return strings.Contains(res.Stdout, "install ok installed"), nil
}

func runApt(ctx context.Context, args ...string) error {
	env := map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	cmd := execwrap.Command(ctx, "", env, "apt-get", args...)
	res, err := execwrap.Run(cmd)
	if err != nil {
		if out := execwrap.PrimaryOutput(res); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}
