package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern    = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	actionIDPattern  = regexp.MustCompile(`^[a-z0-9_]+$`)
	paramNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	fileModePattern  = regexp.MustCompile(`^0[0-7]{3}$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("action_id", func(fl validator.FieldLevel) bool {
			return actionIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("param_name", func(fl validator.FieldLevel) bool {
			return paramNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("file_mode", func(fl validator.FieldLevel) bool {
			return fileModePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the shared validator instance for use outside the
// config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// ValidateCatalog performs schema and cross-reference validation on the
// catalog. Cycle detection is deliberately not done here; the dependency
// graph owns it so a cyclic catalog fails planning, not parsing.
func ValidateCatalog(catalog *Catalog) error {
	if catalog == nil {
		return proverrors.NewConfigError("catalog", "catalog is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(catalog); err != nil {
		return convertValidationError(err)
	}

	paramIndex := make(map[string]struct{}, len(catalog.Params))
	for i, param := range catalog.Params {
		if _, exists := paramIndex[param.Name]; exists {
			return proverrors.NewConfigError(fmt.Sprintf("params[%d].name", i), fmt.Sprintf("duplicate parameter %q", param.Name), nil)
		}
		paramIndex[param.Name] = struct{}{}
	}

	actionIndex := make(map[string]int, len(catalog.Actions))
	for i, action := range catalog.Actions {
		if _, exists := actionIndex[action.ID]; exists {
			return proverrors.NewConfigError(fieldForAction(i, "id"), fmt.Sprintf("duplicate action id %q", action.ID), nil)
		}

		if err := ValidateAction(action); err != nil {
			return err
		}

		actionIndex[action.ID] = i
	}

	for i, action := range catalog.Actions {
		for _, dep := range action.DependsOn {
			if _, ok := actionIndex[dep]; !ok {
				return proverrors.NewConfigError(fieldForAction(i, "depends_on"), fmt.Sprintf("references unknown action %q", dep), nil)
			}
			if dep == action.ID {
				return proverrors.NewConfigError(fieldForAction(i, "depends_on"), "action cannot depend on itself", nil)
			}
		}
	}

	return nil
}

// ValidateAction validates a single action independent of other catalog
// properties.
func ValidateAction(action ActionSpec) error {
	v := validatorInstance()
	if err := v.Struct(action); err != nil {
		return convertValidationError(err)
	}

	switch action.Type {
	case "pkg":
		if action.Pkg == nil {
			return proverrors.NewConfigError(action.ID, "pkg configuration is required", nil)
		}
		if err := v.Struct(action.Pkg); err != nil {
			return convertValidationError(err)
		}
	case "file":
		if action.File == nil {
			return proverrors.NewConfigError(action.ID, "file configuration is required", nil)
		}
		if err := v.Struct(action.File); err != nil {
			return convertValidationError(err)
		}
		if (action.File.Source == "") == (action.File.Content == "") {
			return proverrors.NewConfigError(action.ID, "exactly one of source or content is required", nil)
		}
	case "command":
		if action.Command == nil {
			return proverrors.NewConfigError(action.ID, "command configuration is required", nil)
		}
		if err := v.Struct(action.Command); err != nil {
			return convertValidationError(err)
		}
	case "service":
		if action.Service == nil {
			return proverrors.NewConfigError(action.ID, "service configuration is required", nil)
		}
		if err := v.Struct(action.Service); err != nil {
			return convertValidationError(err)
		}
	case "postgres":
		if action.Postgres == nil {
			return proverrors.NewConfigError(action.ID, "postgres configuration is required", nil)
		}
		if err := v.Struct(action.Postgres); err != nil {
			return convertValidationError(err)
		}
		if err := validatePostgresTarget(action.ID, action.Postgres); err != nil {
			return err
		}
	case "repo":
		if action.Repo == nil {
			return proverrors.NewConfigError(action.ID, "repo configuration is required", nil)
		}
		if err := v.Struct(action.Repo); err != nil {
			return convertValidationError(err)
		}
	default:
		return proverrors.NewConfigError(action.ID, fmt.Sprintf("unknown action type %q", action.Type), nil)
	}

	return nil
}

func validatePostgresTarget(actionID string, pg *PostgresAction) error {
	switch pg.Ensure {
	case "database":
		if pg.Database == "" {
			return proverrors.NewConfigError(actionID, "database name is required when ensure is database", nil)
		}
	case "role":
		if pg.Role == "" {
			return proverrors.NewConfigError(actionID, "role name is required when ensure is role", nil)
		}
	case "extension":
		if pg.Extension == "" || pg.Database == "" {
			return proverrors.NewConfigError(actionID, "extension and database are required when ensure is extension", nil)
		}
	}
	return nil
}

// ValidateParamValue applies a ParamSpec's value rule.
func ValidateParamValue(spec ParamSpec, value string) error {
	switch spec.Validate {
	case "", "nonempty":
		if spec.Validate == "nonempty" && strings.TrimSpace(value) == "" {
			return fmt.Errorf("must not be empty")
		}
		return nil
	case "fqdn":
		if err := validatorInstance().Var(value, "fqdn"); err != nil {
			return fmt.Errorf("must be a fully qualified domain name")
		}
	case "ip":
		if err := validatorInstance().Var(value, "ip"); err != nil {
			return fmt.Errorf("must be a valid IP address")
		}
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("must be a valid port (1-65535)")
		}
	case "semver":
		if !semverPattern.MatchString(value) {
			return fmt.Errorf("must be a semantic version")
		}
	}
	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return proverrors.NewConfigError(field, msg, err)
	}

	return proverrors.NewConfigError("catalog", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForAction(index int, field string) string {
	return fmt.Sprintf("actions[%d].%s", index, field)
}
