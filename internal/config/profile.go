package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

// envPrefix namespaces the environment variables consulted for secret
// parameters, e.g. PROVISION_DB_PASSWORD for the db_password parameter.
const envPrefix = "PROVISION_"

// Profile supplies runtime parameter values for one target host.
type Profile struct {
	Params map[string]string `toml:"params"`
}

// ParseProfile loads a TOML profile from disk. Unknown keys are rejected.
func ParseProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proverrors.NewParseError(path, 0, err)
	}

	var profile Profile
	decoder := toml.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&profile); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, proverrors.NewConfigError(path, fmt.Sprintf("unknown keys in profile: %s", strictKeys(strict)), err)
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			line, _ := decodeErr.Position()
			return nil, proverrors.NewParseError(path, line, err)
		}
		return nil, proverrors.NewParseError(path, 0, err)
	}

	if profile.Params == nil {
		profile.Params = make(map[string]string)
	}
	return &profile, nil
}

// LoadEnvFile loads a dotenv file into the process environment so secret
// parameters can be resolved. A missing file is not an error when optional.
func LoadEnvFile(path string, optional bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return proverrors.NewParseError(path, 0, err)
	}
	return nil
}

// ResolveParams combines the catalog's parameter declarations with the
// profile's values, applying defaults, environment overlays for secrets, and
// value rules. Every missing or invalid parameter is reported in a single
// ConfigError so bad input never causes partial execution.
func ResolveParams(catalog *Catalog, profile *Profile) (map[string]string, error) {
	declared := make(map[string]ParamSpec, len(catalog.Params))
	for _, spec := range catalog.Params {
		declared[spec.Name] = spec
	}

	var issues []proverrors.ConfigIssue

	supplied := map[string]string{}
	if profile != nil {
		for name, value := range profile.Params {
			if _, ok := declared[name]; !ok {
				issues = append(issues, proverrors.ConfigIssue{
					Field:   "params." + name,
					Message: "unknown parameter",
				})
				continue
			}
			supplied[name] = value
		}
	}

	resolved := make(map[string]string, len(declared))
	for _, spec := range catalog.Params {
		value, ok := supplied[spec.Name]
		if !ok || value == "" {
			if spec.Secret {
				if env, found := os.LookupEnv(envPrefix + strings.ToUpper(spec.Name)); found {
					value = env
					ok = true
				}
			}
		}
		if (!ok || value == "") && spec.Default != "" {
			value = spec.Default
			ok = true
		}

		if !ok || value == "" {
			if spec.Required {
				issues = append(issues, proverrors.ConfigIssue{
					Field:   "params." + spec.Name,
					Message: "is required",
				})
			}
			continue
		}

		if err := ValidateParamValue(spec, value); err != nil {
			issues = append(issues, proverrors.ConfigIssue{
				Field:   "params." + spec.Name,
				Message: err.Error(),
			})
			continue
		}

		resolved[spec.Name] = value
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	if err := proverrors.NewConfigErrors(issues); err != nil {
		return nil, err
	}

	return resolved, nil
}

func strictKeys(err *toml.StrictMissingError) string {
	keys := make([]string, 0, len(err.Errors))
	for _, e := range err.Errors {
		keys = append(keys, strings.Join(e.Key(), "."))
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
