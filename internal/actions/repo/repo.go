// Package repoaction clones git repositories to a destination path. The
// probe inspects the working copy with go-git and classifies remote URL and
// branch drift; apply clones, reclones, or checks out as needed.
package repoaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

type repoAction struct{}

// New creates the repo action implementation.
func New() action.Action {
	return &repoAction{}
}

var _ action.Action = (*repoAction)(nil)

func (a *repoAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "repo",
		Type:        "repo",
		Version:     "1.0.0",
		Description: "Clones git repositories with branch and remote drift detection.",
	}
}

func (a *repoAction) Schema() any {
	return config.RepoAction{}
}

type probeData struct {
	Missing     bool
	NotGit      bool
	WrongURL    bool
	WrongBranch bool
}

func (a *repoAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, err)
	}

	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.Destination); err != nil {
		if !os.IsNotExist(err) {
			return nil, proverrors.NewProbeError(req.Spec.ID, fmt.Errorf("cannot access destination: %w", err))
		}
		return &model.ProbeResult{
			ActionID:     req.Spec.ID,
			Status:       model.StatusAbsent,
			Message:      fmt.Sprintf("destination %s does not exist", cfg.Destination),
			Diff:         fmt.Sprintf("would clone %s", cfg.URL),
			InternalData: &probeData{Missing: true},
		}, nil
	}

	repo, err := git.PlainOpen(cfg.Destination)
	if err != nil {
		return &model.ProbeResult{
			ActionID:     req.Spec.ID,
			Status:       model.StatusPartial,
			Message:      fmt.Sprintf("directory %s exists but is not a git repository", cfg.Destination),
			Diff:         fmt.Sprintf("would replace directory with clone of %s", cfg.URL),
			InternalData: &probeData{NotGit: true},
		}, nil
	}

	if remote, err := repo.Remote("origin"); err == nil {
		urls := remote.Config().URLs
		if len(urls) > 0 && urls[0] != cfg.URL {
			return &model.ProbeResult{
				ActionID:     req.Spec.ID,
				Status:       model.StatusPartial,
				Message:      fmt.Sprintf("remote URL is %s, want %s", urls[0], cfg.URL),
				Diff:         fmt.Sprintf("would reclone from %s", cfg.URL),
				InternalData: &probeData{WrongURL: true},
			}, nil
		}
	}

	if cfg.Branch != "" {
		head, err := repo.Head()
		if err != nil {
			return nil, proverrors.NewProbeError(req.Spec.ID, fmt.Errorf("read HEAD: %w", err))
		}
		if head.Name().Short() != cfg.Branch {
			return &model.ProbeResult{
				ActionID:     req.Spec.ID,
				Status:       model.StatusPartial,
				Message:      fmt.Sprintf("checked out branch is %s, want %s", head.Name().Short(), cfg.Branch),
				Diff:         fmt.Sprintf("would checkout %s", cfg.Branch),
				InternalData: &probeData{WrongBranch: true},
			}, nil
		}
	}

	return &model.ProbeResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusPresent,
		Message:  fmt.Sprintf("repository %s is in place", cfg.Destination),
	}, nil
}

func (a *repoAction) Apply(ctx context.Context, req *action.Request, probe *model.ProbeResult) (*model.ActionResult, error) {
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
		if !fresh.RequiresAction() {
			return &model.ActionResult{
				ActionID: req.Spec.ID,
				Status:   model.StatusSkipped,
				Message:  fresh.Message,
			}, nil
		}
		data, _ = fresh.InternalData.(*probeData)
		if data == nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("probe produced no repository state"))
		}
	}

	switch {
	case data.Missing:
		if err := a.clone(ctx, cfg); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, err)
		}
		return applied(req.Spec.ID, fmt.Sprintf("cloned %s to %s", cfg.URL, cfg.Destination)), nil

	case data.NotGit, data.WrongURL:
		if err := os.RemoveAll(cfg.Destination); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("remove stale destination: %w", err))
		}
		if err := a.clone(ctx, cfg); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, err)
		}
		return applied(req.Spec.ID, fmt.Sprintf("recloned %s to %s", cfg.URL, cfg.Destination)), nil

	case data.WrongBranch:
		if err := a.checkout(ctx, cfg); err != nil {
			return nil, proverrors.NewActionError(req.Spec.ID, err)
		}
		return applied(req.Spec.ID, fmt.Sprintf("checked out %s in %s", cfg.Branch, cfg.Destination)), nil
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusSkipped,
		Message:  "repository already in desired state",
	}, nil
}

func applied(actionID, message string) *model.ActionResult {
	return &model.ActionResult{
		ActionID: actionID,
		Status:   model.StatusApplied,
		Message:  message,
	}
}

func loadConfig(req *action.Request) (*config.RepoAction, error) {
	if req.Spec.Repo == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("repo configuration missing"))
	}

	cfg := *req.Spec.Repo
	if err := config.RenderAll(req.Params, &cfg.URL, &cfg.Destination, &cfg.Branch); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}
	return &cfg, nil
}

func (a *repoAction) clone(ctx context.Context, cfg *config.RepoAction) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	opts := &git.CloneOptions{URL: cfg.URL}
	if cfg.Depth > 0 {
		opts.Depth = cfg.Depth
	}
	if cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, cfg.Destination, false, opts); err != nil {
		return fmt.Errorf("clone %s: %w", cfg.URL, err)
	}
	return nil
}

func (a *repoAction) checkout(ctx context.Context, cfg *config.RepoAction) error {
	repo, err := git.PlainOpen(cfg.Destination)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	branch := plumbing.NewBranchReferenceName(cfg.Branch)
	if _, err := repo.Reference(branch, true); err != nil {
		fetchErr := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin"})
		if fetchErr != nil && fetchErr != git.NoErrAlreadyUpToDate {
			return fmt.Errorf("fetch origin: %w", fetchErr)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branch}); err != nil {
		return fmt.Errorf("checkout %s: %w", cfg.Branch, err)
	}
	return nil
}
