package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

// Catalog represents the full action catalog document.
type Catalog struct {
	Version     string       `yaml:"version" validate:"required,semver"`
	Name        string       `yaml:"name" validate:"required,min=1,max=100"`
	Description string       `yaml:"description,omitempty"`
	Settings    Settings     `yaml:"settings,omitempty"`
	Params      []ParamSpec  `yaml:"params,omitempty" validate:"omitempty,dive"`
	Actions     []ActionSpec `yaml:"actions" validate:"required,min=1,dive"`
}

// Settings holds global execution parameters.
type Settings struct {
	// Parallel bounds how many independent actions may run concurrently
	// within one plan level. The default of 1 keeps execution sequential;
	// raising it is an opt-in for catalogs whose actions touch disjoint
	// host resources.
	Parallel int `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=16"`
	// Timeout is the default per-action apply deadline in seconds.
	Timeout int `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=86400"`
	Verbose bool `yaml:"verbose,omitempty"`
}

// ParamSpec declares a runtime parameter the catalog consumes. Values come
// from the profile document, or from the PROVISION_<NAME> environment
// variable for secret parameters.
type ParamSpec struct {
	Name     string `yaml:"name" validate:"required,param_name"`
	Required bool   `yaml:"required,omitempty"`
	Secret   bool   `yaml:"secret,omitempty"`
	Default  string `yaml:"default,omitempty"`
	// Validate names an optional value rule: one of fqdn, ip, port,
	// semver, nonempty.
	Validate string `yaml:"validate,omitempty" validate:"omitempty,oneof=fqdn ip port semver nonempty"`
}

// RetrySpec declares an action's retry policy. The executor owns the retry
// loop and re-probes between attempts.
type RetrySpec struct {
	Attempts int `yaml:"attempts,omitempty" validate:"omitempty,min=1,max=10"`
	// Backoff is the delay in seconds before the second attempt; it doubles
	// on each further attempt.
	Backoff int `yaml:"backoff,omitempty" validate:"omitempty,min=0,max=3600"`
}

// ActionSpec describes an individual unit of provisioning work in the DAG.
type ActionSpec struct {
	ID        string    `yaml:"id" validate:"required,action_id"`
	Name      string    `yaml:"name,omitempty"`
	Type      string    `yaml:"type" validate:"required,oneof=pkg file command service postgres repo"`
	DependsOn []string  `yaml:"depends_on,omitempty"`
	Enabled   bool      `yaml:"enabled,omitempty"`
	NonFatal  bool      `yaml:"non_fatal,omitempty"`
	Timeout   int       `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=86400"`
	Retry     RetrySpec `yaml:"retry,omitempty"`

	Pkg      *PkgAction      `yaml:",inline,omitempty"`
	File     *FileAction     `yaml:",inline,omitempty"`
	Command  *CommandAction  `yaml:",inline,omitempty"`
	Service  *ServiceAction  `yaml:",inline,omitempty"`
	Postgres *PostgresAction `yaml:",inline,omitempty"`
	Repo     *RepoAction     `yaml:",inline,omitempty"`
}

var baseActionKeys = []string{"id", "name", "type", "depends_on", "enabled", "non_fatal", "timeout", "retry"}

var retryKeys = []string{"attempts", "backoff"}

var actionTypeKeys = map[string][]string{
	"pkg":      {"packages", "update"},
	"file":     {"source", "content", "destination", "mode", "owner", "group"},
	"command":  {"command", "check", "shell", "workdir", "env"},
	"service":  {"unit", "enable", "start"},
	"postgres": {"ensure", "dsn", "database", "db_owner", "role", "password", "extension"},
	"repo":     {"url", "destination", "branch", "depth"},
}

// checkActionKeys rejects keys the action schema does not declare. The
// KnownFields strictness of the top-level decoder does not reach into custom
// unmarshalers, so a misspelled key (non_fatl, depend_on) would otherwise
// silently change behavior.
func checkActionKeys(value *yaml.Node, actionID, actionType string) error {
	if value.Kind != yaml.MappingNode {
		return nil
	}

	typeKeys, knownType := actionTypeKeys[actionType]
	if !knownType {
		// An invalid type is reported by validation; checking its keys
		// against the base set alone would only add noise.
		return nil
	}

	allowed := make(map[string]struct{}, len(baseActionKeys)+len(typeKeys))
	for _, k := range baseActionKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range typeKeys {
		allowed[k] = struct{}{}
	}

	var issues []proverrors.ConfigIssue
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		key := keyNode.Value
		if _, ok := allowed[key]; !ok {
			issues = append(issues, proverrors.ConfigIssue{
				Field:   fmt.Sprintf("actions.%s", actionID),
				Message: fmt.Sprintf("unknown key %q for action type %q (line %d)", key, actionType, keyNode.Line),
			})
			continue
		}
		if key == "retry" {
			issues = append(issues, checkRetryKeys(value.Content[i+1], actionID)...)
		}
	}

	return proverrors.NewConfigErrors(issues)
}

func checkRetryKeys(value *yaml.Node, actionID string) []proverrors.ConfigIssue {
	if value.Kind != yaml.MappingNode {
		return nil
	}

	var issues []proverrors.ConfigIssue
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		known := false
		for _, k := range retryKeys {
			if keyNode.Value == k {
				known = true
				break
			}
		}
		if !known {
			issues = append(issues, proverrors.ConfigIssue{
				Field:   fmt.Sprintf("actions.%s.retry", actionID),
				Message: fmt.Sprintf("unknown key %q (line %d)", keyNode.Value, keyNode.Line),
			})
		}
	}
	return issues
}

// UnmarshalYAML customises action decoding to populate type-specific
// structures without conflicts.
func (a *ActionSpec) UnmarshalYAML(value *yaml.Node) error {
	type baseAction struct {
		ID        string    `yaml:"id"`
		Name      string    `yaml:"name"`
		Type      string    `yaml:"type"`
		DependsOn []string  `yaml:"depends_on"`
		Enabled   *bool     `yaml:"enabled"`
		NonFatal  bool      `yaml:"non_fatal"`
		Timeout   int       `yaml:"timeout"`
		Retry     RetrySpec `yaml:"retry"`
	}

	var base baseAction
	if err := value.Decode(&base); err != nil {
		return err
	}

	if err := checkActionKeys(value, base.ID, base.Type); err != nil {
		return err
	}

	a.ID = base.ID
	a.Name = base.Name
	a.Type = base.Type
	a.DependsOn = append([]string(nil), base.DependsOn...)
	a.NonFatal = base.NonFatal
	a.Timeout = base.Timeout
	a.Retry = base.Retry
	if base.Enabled != nil {
		a.Enabled = *base.Enabled
	} else {
		a.Enabled = true
	}

	a.Pkg = nil
	a.File = nil
	a.Command = nil
	a.Service = nil
	a.Postgres = nil
	a.Repo = nil

	switch base.Type {
	case "pkg":
		var pkg PkgAction
		if err := value.Decode(&pkg); err != nil {
			return err
		}
		a.Pkg = &pkg
	case "file":
		var file FileAction
		if err := value.Decode(&file); err != nil {
			return err
		}
		a.File = &file
	case "command":
		var cmd CommandAction
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		a.Command = &cmd
	case "service":
		var svc ServiceAction
		if err := value.Decode(&svc); err != nil {
			return err
		}
		a.Service = &svc
	case "postgres":
		var pg PostgresAction
		if err := value.Decode(&pg); err != nil {
			return err
		}
		a.Postgres = &pg
	case "repo":
		var repo RepoAction
		if err := value.Decode(&repo); err != nil {
			return err
		}
		a.Repo = &repo
	}

	return nil
}

// PkgAction installs one or more system packages.
type PkgAction struct {
	Packages []string `yaml:"packages" validate:"required,min=1,dive,min=1,max=100"`
	Update   bool     `yaml:"update,omitempty"`
}

// FileAction renders a template to a destination file. Source may be a
// template file path; Content an inline template. Exactly one must be set.
type FileAction struct {
	Source      string `yaml:"source,omitempty"`
	Content     string `yaml:"content,omitempty"`
	Destination string `yaml:"destination" validate:"required"`
	// Mode is an octal string such as "0644". When empty, an existing
	// file's mode is left alone and any mismatch against the platform
	// default is reported rather than standardized.
	Mode  string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
	Owner string `yaml:"owner,omitempty"`
	Group string `yaml:"group,omitempty"`
}

// CommandAction executes a shell command, with an optional check command
// used as its probe.
type CommandAction struct {
	Command string            `yaml:"command" validate:"required,min=1"`
	Check   string            `yaml:"check,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ServiceAction ensures a systemd unit is enabled and active.
type ServiceAction struct {
	Unit    string `yaml:"unit" validate:"required,min=1"`
	Enabled *bool  `yaml:"enable,omitempty"`
	Started *bool  `yaml:"start,omitempty"`
}

// PostgresAction ensures a database, role, or extension exists on a
// PostgreSQL server.
type PostgresAction struct {
	// Ensure selects what is being provisioned.
	Ensure string `yaml:"ensure" validate:"required,oneof=database role extension"`
	// DSN is the connection string for the administrative connection.
	// Supports parameter expansion.
	DSN string `yaml:"dsn" validate:"required"`

	Database  string `yaml:"database,omitempty"`
	Owner     string `yaml:"db_owner,omitempty"`
	Role      string `yaml:"role,omitempty"`
	Password  string `yaml:"password,omitempty"`
	Extension string `yaml:"extension,omitempty"`
}

// RepoAction clones a git repository at an optional reference.
type RepoAction struct {
	URL         string `yaml:"url" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	Branch      string `yaml:"branch,omitempty"`
	Depth       int    `yaml:"depth,omitempty" validate:"omitempty,min=0"`
}

// ActionMap builds a lookup table for actions by ID.
func ActionMap(actions []ActionSpec) map[string]ActionSpec {
	out := make(map[string]ActionSpec, len(actions))
	for _, action := range actions {
		out[action.ID] = action
	}
	return out
}
