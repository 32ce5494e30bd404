// Package serviceaction manages systemd units. The probe reads unit state
// with systemctl is-enabled and is-active; apply reconciles only the
// dimensions that drifted, so an enabled-but-stopped unit is started without
// touching its enablement.
package serviceaction

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

type serviceAction struct{}

// New creates the service action implementation.
func New() action.Action {
	return &serviceAction{}
}

var _ action.Action = (*serviceAction)(nil)

func (a *serviceAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "service",
		Type:        "service",
		Version:     "1.0.0",
		Description: "Ensures systemd units are enabled and active.",
	}
}

func (a *serviceAction) Schema() any {
	return config.ServiceAction{}
}

type probeData struct {
	NeedEnable bool
	NeedStart  bool
}

func (a *serviceAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	wantEnabled := cfg.Enabled == nil || *cfg.Enabled
	wantStarted := cfg.Started == nil || *cfg.Started

	enabled, err := unitEnabled(ctx, cfg.Unit)
	if err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, err)
	}
	active, err := unitActive(ctx, cfg.Unit)
	if err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, err)
	}

	data := &probeData{
		NeedEnable: wantEnabled && !enabled,
		NeedStart:  wantStarted && !active,
	}

	if !data.NeedEnable && !data.NeedStart {
		return &model.ProbeResult{
			ActionID:     req.Spec.ID,
			Status:       model.StatusPresent,
			Message:      fmt.Sprintf("unit %s is in the desired state", cfg.Unit),
			InternalData: data,
		}, nil
	}

	var pending []string
	if data.NeedEnable {
		pending = append(pending, "enable")
	}
	if data.NeedStart {
		pending = append(pending, "start")
	}

	status := model.StatusPartial
	if data.NeedEnable && data.NeedStart && !enabled && !active {
		status = model.StatusAbsent
	}

	return &model.ProbeResult{
		ActionID:     req.Spec.ID,
		Status:       status,
		Message:      fmt.Sprintf("unit %s needs: %s", cfg.Unit, strings.Join(pending, ", ")),
		Diff:         fmt.Sprintf("would %s %s", strings.Join(pending, " and "), cfg.Unit),
		InternalData: data,
	}, nil
}

func (a *serviceAction) Apply(ctx context.Context, req *action.Request, probe *model.ProbeResult) (*model.ActionResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	data, _ := probe.InternalData.(*probeData)
	if data == nil {
		fresh, probeErr := a.Probe(ctx, req)
		if probeErr != nil {
			return nil, probeErr
		}
		data, _ = fresh.InternalData.(*probeData)
		if data == nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("probe produced no unit state"))
		}
	}

	var done []string
	if data.NeedEnable {
		if err := systemctl(ctx, "enable", cfg.Unit); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("enable %s: %w", cfg.Unit, err))
		}
		done = append(done, "enabled")
	}
	if data.NeedStart {
		if err := systemctl(ctx, "start", cfg.Unit); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("start %s: %w", cfg.Unit, err))
		}
		done = append(done, "started")
	}

	if len(done) == 0 {
		return &model.ActionResult{
			ActionID: req.Spec.ID,
			Status:   model.StatusSkipped,
			Message:  fmt.Sprintf("unit %s already in desired state", cfg.Unit),
		}, nil
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusApplied,
		Message:  fmt.Sprintf("unit %s %s", cfg.Unit, strings.Join(done, " and ")),
	}, nil
}

func loadConfig(req *action.Request) (*config.ServiceAction, error) {
	cfg := req.Spec.Service
	if cfg == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("service configuration missing"))
	}
	if req.Facts != nil && !req.Facts.Supports("systemd") {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("host has no systemd, service actions are unsupported"))
	}
	return cfg, nil
}

// unitEnabled classifies `systemctl is-enabled` output. The command exits
// non-zero for disabled units, so the exit code alone cannot distinguish
// disabled from a missing systemctl.
func unitEnabled(ctx context.Context, unit string) (bool, error) {
	res, err := execwrap.Run(execwrap.Command(ctx, "", nil, "systemctl", "is-enabled", unit))
	if err != nil && !execwrap.ExitedNonZero(err) {
		return false, fmt.Errorf("systemctl is-enabled %s: %w", unit, err)
	}
	return strings.HasPrefix(res.Stdout, "enabled"), nil
}

func unitActive(ctx context.Context, unit string) (bool, error) {
	res, err := execwrap.Run(execwrap.Command(ctx, "", nil, "systemctl", "is-active", unit))
	if err != nil && !execwrap.ExitedNonZero(err) {
		return false, fmt.Errorf("systemctl is-active %s: %w", unit, err)
	}
	return res.Stdout == "active", nil
}

func systemctl(ctx context.Context, verb, unit string) error {
	res, err := execwrap.Run(execwrap.Command(ctx, "", nil, "systemctl", verb, unit))
	if err != nil {
		if out := execwrap.PrimaryOutput(res); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}
