package engine

import (
	"context"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/events"
	"github.com/hostplane/provision/internal/hostfacts"
	"github.com/hostplane/provision/internal/logger"
	"github.com/hostplane/provision/internal/model"
)

// ExecutionContext contains runtime state shared across one executor run.
type ExecutionContext struct {
	Catalog  *config.Catalog
	Params   map[string]string
	Facts    *hostfacts.Facts
	Registry *action.Registry
	DryRun   bool
	Logger   *logger.Logger
	Emitter  events.Emitter
	Results  map[string]*model.ActionResult
	Context  context.Context
}
