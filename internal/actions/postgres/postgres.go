// Package postgresaction provisions PostgreSQL databases, roles, and
// extensions over an administrative connection. Probes query the system
// catalogs; apply issues the matching CREATE or ALTER statements with
// identifiers and literals quoted through lib/pq.
package postgresaction

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hostplane/provision/internal/action"
	"github.com/hostplane/provision/internal/config"
	"github.com/hostplane/provision/internal/model"
	proverrors "github.com/hostplane/provision/pkg/errors"
)

type postgresAction struct{}

// New creates the postgres action implementation.
func New() action.Action {
	return &postgresAction{}
}

var _ action.Action = (*postgresAction)(nil)

func (a *postgresAction) ActionMetadata() action.Metadata {
	return action.Metadata{
		Name:        "postgres",
		Type:        "postgres",
		Version:     "1.0.0",
		Description: "Ensures PostgreSQL databases, roles, and extensions exist.",
	}
}

func (a *postgresAction) Schema() any {
	return config.PostgresAction{}
}

type probeData struct {
	OwnerDrift bool
}

func (a *postgresAction) Probe(ctx context.Context, req *action.Request) (*model.ProbeResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	db, err := open(ctx, cfg)
	if err != nil {
		return nil, proverrors.NewProbeError(req.Spec.ID, err)
	}
	defer db.Close()

	switch cfg.Ensure {
	case "database":
		return a.probeDatabase(ctx, db, req.Spec.ID, cfg)
	case "role":
		return a.probeRole(ctx, db, req.Spec.ID, cfg)
	case "extension":
		return a.probeExtension(ctx, db, req.Spec.ID, cfg)
	}
	return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("unknown ensure target %q", cfg.Ensure))
}

func (a *postgresAction) probeDatabase(ctx context.Context, db *sql.DB, actionID string, cfg *config.PostgresAction) (*model.ProbeResult, error) {
	var owner string
	err := db.QueryRowContext(ctx,
		`SELECT pg_catalog.pg_get_userbyid(datdba) FROM pg_catalog.pg_database WHERE datname = $1`,
		cfg.Database).Scan(&owner)
	if err == sql.ErrNoRows {
		return &model.ProbeResult{
			ActionID: actionID,
			Status:   model.StatusAbsent,
			Message:  fmt.Sprintf("database %s does not exist", cfg.Database),
			Diff:     fmt.Sprintf("would create database %s", cfg.Database),
		}, nil
	}
	if err != nil {
		return nil, proverrors.NewProbeError(actionID, fmt.Errorf("query pg_database: %w", err))
	}

	if cfg.Owner != "" && owner != cfg.Owner {
		return &model.ProbeResult{
			ActionID:     actionID,
			Status:       model.StatusPartial,
			Message:      fmt.Sprintf("database %s is owned by %s, want %s", cfg.Database, owner, cfg.Owner),
			Diff:         fmt.Sprintf("would alter database %s owner to %s", cfg.Database, cfg.Owner),
			InternalData: &probeData{OwnerDrift: true},
		}, nil
	}

	return &model.ProbeResult{
		ActionID: actionID,
		Status:   model.StatusPresent,
		Message:  fmt.Sprintf("database %s exists", cfg.Database),
	}, nil
}

func (a *postgresAction) probeRole(ctx context.Context, db *sql.DB, actionID string, cfg *config.PostgresAction) (*model.ProbeResult, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_roles WHERE rolname = $1)`,
		cfg.Role).Scan(&exists)
	if err != nil {
		return nil, proverrors.NewProbeError(actionID, fmt.Errorf("query pg_roles: %w", err))
	}

	if !exists {
		return &model.ProbeResult{
			ActionID: actionID,
			Status:   model.StatusAbsent,
			Message:  fmt.Sprintf("role %s does not exist", cfg.Role),
			Diff:     fmt.Sprintf("would create role %s", cfg.Role),
		}, nil
	}

	// Passwords are hashed server-side and cannot be compared read-only,
	// so an existing role counts as present.
	return &model.ProbeResult{
		ActionID: actionID,
		Status:   model.StatusPresent,
		Message:  fmt.Sprintf("role %s exists", cfg.Role),
	}, nil
}

func (a *postgresAction) probeExtension(ctx context.Context, db *sql.DB, actionID string, cfg *config.PostgresAction) (*model.ProbeResult, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_extension WHERE extname = $1)`,
		cfg.Extension).Scan(&exists)
	if err != nil {
		return nil, proverrors.NewProbeError(actionID, fmt.Errorf("query pg_extension: %w", err))
	}

	if !exists {
		return &model.ProbeResult{
			ActionID: actionID,
			Status:   model.StatusAbsent,
			Message:  fmt.Sprintf("extension %s is not installed", cfg.Extension),
			Diff:     fmt.Sprintf("would create extension %s", cfg.Extension),
		}, nil
	}

	return &model.ProbeResult{
		ActionID: actionID,
		Status:   model.StatusPresent,
		Message:  fmt.Sprintf("extension %s is installed", cfg.Extension),
	}, nil
}

func (a *postgresAction) Apply(ctx context.Context, req *action.Request, probe *model.ProbeResult) (*model.ActionResult, error) {
	cfg, err := loadConfig(req)
	if err != nil {
		return nil, err
	}

	db, err := open(ctx, cfg)
	if err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}
	defer db.Close()

	var stmt, message string
	switch cfg.Ensure {
	case "database":
		data, _ := probe.InternalData.(*probeData)
		if data != nil && data.OwnerDrift {
			stmt = alterDatabaseOwnerStatement(cfg.Database, cfg.Owner)
			message = fmt.Sprintf("database %s owner set to %s", cfg.Database, cfg.Owner)
		} else {
			stmt = createDatabaseStatement(cfg.Database, cfg.Owner)
			message = fmt.Sprintf("database %s created", cfg.Database)
		}
	case "role":
		stmt = createRoleStatement(cfg.Role, cfg.Password)
		message = fmt.Sprintf("role %s created", cfg.Role)
	case "extension":
		stmt = createExtensionStatement(cfg.Extension)
		message = fmt.Sprintf("extension %s installed", cfg.Extension)
	default:
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("unknown ensure target %q", cfg.Ensure))
	}

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("ensure %s: %w", cfg.Ensure, err))
	}

	return &model.ActionResult{
		ActionID: req.Spec.ID,
		Status:   model.StatusApplied,
		Message:  message,
	}, nil
}

// loadConfig renders the DSN and target fields so parameters and secrets can
// flow into the connection string without living in the catalog.
func loadConfig(req *action.Request) (*config.PostgresAction, error) {
	if req.Spec.Postgres == nil {
		return nil, proverrors.NewActionError(req.Spec.ID, fmt.Errorf("postgres configuration missing"))
	}

	cfg := *req.Spec.Postgres
	err := config.RenderAll(req.Params,
		&cfg.DSN, &cfg.Database, &cfg.Owner, &cfg.Role, &cfg.Password, &cfg.Extension)
	if err != nil {
		return nil, proverrors.NewActionError(req.Spec.ID, err)
	}
	return &cfg, nil
}

func open(ctx context.Context, cfg *config.PostgresAction) (*sql.DB, error) {
	dsn, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// connectionString retargets the admin DSN at the workload database for
// extension provisioning, since CREATE EXTENSION operates on the connected
// database. URL-form DSNs are normalized to keyword form first.
func connectionString(cfg *config.PostgresAction) (string, error) {
	dsn := cfg.DSN
	if cfg.Ensure != "extension" || cfg.Database == "" {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		parsed, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		dsn = parsed
	}

	return withDBName(dsn, cfg.Database), nil
}

func withDBName(keywordDSN, database string) string {
	fields := strings.Fields(keywordDSN)
	kept := fields[:0]
	for _, field := range fields {
		if strings.HasPrefix(field, "dbname=") {
			continue
		}
		kept = append(kept, field)
	}
	kept = append(kept, "dbname="+quoteConnValue(database))
	return strings.Join(kept, " ")
}

// quoteConnValue quotes a keyword/value connection string value per libpq
// rules. pq.QuoteLiteral is for SQL literals and may emit the E'...' form,
// which the connection string parser does not accept.
func quoteConnValue(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}

func createDatabaseStatement(database, owner string) string {
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(database))
	if owner != "" {
		stmt += fmt.Sprintf(" OWNER %s", pq.QuoteIdentifier(owner))
	}
	return stmt
}

func alterDatabaseOwnerStatement(database, owner string) string {
	return fmt.Sprintf("ALTER DATABASE %s OWNER TO %s",
		pq.QuoteIdentifier(database), pq.QuoteIdentifier(owner))
}

func createRoleStatement(role, password string) string {
	stmt := fmt.Sprintf("CREATE ROLE %s LOGIN", pq.QuoteIdentifier(role))
	if password != "" {
		stmt += fmt.Sprintf(" PASSWORD %s", pq.QuoteLiteral(password))
	}
	return stmt
}

func createExtensionStatement(extension string) string {
	return fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s", pq.QuoteIdentifier(extension))
}
