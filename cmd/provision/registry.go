package main

import (
	"github.com/hostplane/provision/internal/action"
	commandaction "github.com/hostplane/provision/internal/actions/command"
	fileaction "github.com/hostplane/provision/internal/actions/file"
	pkgaction "github.com/hostplane/provision/internal/actions/pkg"
	postgresaction "github.com/hostplane/provision/internal/actions/postgres"
	repoaction "github.com/hostplane/provision/internal/actions/repo"
	serviceaction "github.com/hostplane/provision/internal/actions/service"
)

// newRegistry wires every built-in action type. Registration of built-ins
// cannot collide, so errors are ignored.
func newRegistry() *action.Registry {
	registry := action.NewRegistry()
	registry.Register("pkg", pkgaction.New())           //nolint:errcheck
	registry.Register("file", fileaction.New())         //nolint:errcheck
	registry.Register("command", commandaction.New())   //nolint:errcheck
	registry.Register("service", serviceaction.New())   //nolint:errcheck
	registry.Register("postgres", postgresaction.New()) //nolint:errcheck
	registry.Register("repo", repoaction.New())         //nolint:errcheck
	return registry
}
