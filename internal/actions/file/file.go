// Package fileaction renders configuration files to their destinations.
// Content comes from a template file or an inline template, with parameter
// expansion, and the probe compares content by hash and mode bit-for-bit so
// drift in either direction is caught.
package fileaction

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/model"
	"github.com/hostplane/provision/pkg/diff"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

const defaultMode = os.FileMode(0o644)

type fileAction struct{}

// New creates the file action implementation.
func New() action.Action {
	return &fileAction{}
}

var _ action.Action = (*fileAction)(nil)

func (a *fileAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "file",
		Type:        "file",
		Version:     "1.0.0",
		Description: "Renders templated configuration files with content and mode reconciliation.",
	}
}

func (a *fileAction) Schema() any {
	return config.FileAction{}
}

type probeData struct {
	Rendered     []byte
	DesiredMode  os.FileMode
	ModeDeclared bool
	ExistingMode os.FileMode
	Exists       bool
	ContentMatch bool
	ModeMatch    bool
}

func (a *fileAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, err)
	}

	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	rendered, err := renderContent(cfg, req.Params)
	if err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}

	desiredMode, declared, err := desiredFileMode(cfg)
	if err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}

	existing, info, err := readDestination(cfg.Destination)
	if err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, fmt.Errorf("cannot read destination %s: %w", cfg.Destination, err))
	}

	data := &probeData{
		Rendered:     rendered,
		DesiredMode:  desiredMode,
		ModeDeclared: declared,
		Exists:       info != nil,
	}

	if !data.Exists {
		return &model.ProbeResult{
			ActionID:     req.Spec.ID,
			Status:       model.StatusAbsent,
			Message:      fmt.Sprintf("destination %s does not exist", cfg.Destination),
			Diff:         fmt.Sprintf("would create %s (%d bytes, mode %04o)", cfg.Destination, len(rendered), desiredMode),
			InternalData: data,
		}, nil
	}

	data.ExistingMode = info.Mode().Perm()
	data.ContentMatch = sha256.Sum256(existing) == sha256.Sum256(rendered)
	// With no declared mode the existing mode is never reconciled; a
	// mismatch against the platform default is reported but not repaired.
	data.ModeMatch = !declared || data.ExistingMode == desiredMode.Perm()

	if data.ContentMatch && data.ModeMatch {
		message := fmt.Sprintf("file %s is up to date", cfg.Destination)
		if !declared && data.ExistingMode != defaultMode {
			message = fmt.Sprintf("file %s is up to date (mode %04o differs from default %04o, not managed)",
				cfg.Destination, data.ExistingMode, defaultMode)
		}
		return &model.ProbeResult{
			ActionID:     req.Spec.ID,
			Status:       model.StatusPresent,
			Message:      message,
			InternalData: data,
		}, nil
	}

	var diffStr string
	var message string
	switch {
	case !data.ContentMatch:
		diffStr = diff.Unified(existing, rendered, cfg.Destination)
		message = fmt.Sprintf("file %s content differs", cfg.Destination)
	default:
		diffStr = fmt.Sprintf("would chmod %s from %04o to %04o", cfg.Destination, data.ExistingMode, desiredMode.Perm())
		message = fmt.Sprintf("file %s mode is %04o, want %04o", cfg.Destination, data.ExistingMode, desiredMode.Perm())
	}

	return &model.ProbeResult{
		ActionID:     req.Spec.ID,
		Status:       model.StatusPartial,
		Message:      message,
		Diff:         diffStr,
		InternalData: data,
	}, nil
}

func (a *fileAction) Apply(ctx context.Context, req *action.Request, probe *model.ProbeResult) (*model.ActionResult, error) {
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
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("probe produced no file state"))
		}
	}

	// Mode-only drift: fix permissions without rewriting content.
	if data.Exists && data.ContentMatch && !data.ModeMatch {
		if err := os.Chmod(cfg.Destination, data.DesiredMode.Perm()); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("chmod %s: %w", cfg.Destination, err))
		}
		return &model.ActionResult{
			ActionID: req.Spec.ID,
			Status:   model.StatusApplied,
			Message:  fmt.Sprintf("mode of %s set to %04o", cfg.Destination, data.DesiredMode.Perm()),
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("create destination directory: %w", err))
	}

	mode := data.DesiredMode
	if !data.ModeDeclared && data.Exists {
		// Keep the file's own mode when the catalog does not manage it.
		mode = data.ExistingMode
	}

	if err := writeAtomic(cfg.Destination, data.Rendered, mode); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}

	if err := applyOwnership(cfg); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusApplied,
		Message:  fmt.Sprintf("wrote %s (%d bytes)", cfg.Destination, len(data.Rendered)),
	}, nil
}

func loadConfig(req *action.Request) (*config.FileAction, error) {
	cfg := req.Spec.File
	if cfg == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("file configuration missing"))
	}
	return cfg, nil
}

func renderContent(cfg *config.FileAction, params map[string]string) ([]byte, error) {
	source := cfg.Content
	if cfg.Source != "" {
		raw, err := os.ReadFile(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("read template source %s: %w", cfg.Source, err)
		}
		source = string(raw)
	}

	rendered, err := config.Render(source, params)
	if err != nil {
		return nil, err
	}
	return []byte(rendered), nil
}

func desiredFileMode(cfg *config.FileAction) (os.FileMode, bool, error) {
	if cfg.Mode == "" {
		return defaultMode, false, nil
	}
	parsed, err := strconv.ParseUint(cfg.Mode, 8, 32)
	if err != nil {
		return 0, false, fmt.Errorf("invalid file mode %q: %w", cfg.Mode, err)
	}
	return os.FileMode(parsed), true, nil
}

func readDestination(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return content, info, nil
}

func applyOwnership(cfg *config.FileAction) error {
	if cfg.Owner == "" && cfg.Group == "" {
		return nil
	}

	uid, gid := -1, -1
	if cfg.Owner != "" {
		u, err := user.Lookup(cfg.Owner)
		if err != nil {
			return fmt.Errorf("lookup owner %q: %w", cfg.Owner, err)
		}
		parsed, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("non-numeric uid %q for owner %q", u.Uid, cfg.Owner)
		}
		uid = parsed
	}
	if cfg.Group != "" {
		g, err := user.LookupGroup(cfg.Group)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", cfg.Group, err)
		}
		parsed, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("non-numeric gid %q for group %q", g.Gid, cfg.Group)
		}
		gid = parsed
	}

	if err := os.Chown(cfg.Destination, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", cfg.Destination, err)
	}
	return nil
}

// writeAtomic writes via a temp file in the destination directory and
// renames, so a crash mid-write never leaves a truncated config file.
func writeAtomic(destination string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(destination)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, destination); err != nil {
		return fmt.Errorf("rename to %s: %w", destination, err)
	}
	return nil
}
