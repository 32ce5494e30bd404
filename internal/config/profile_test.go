package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseProfile_Valid(t *testing.T) {
	path := writeProfile(t, `
[params]
db_name = "dhis2"
domain = "example.org"
`)

	profile, err := ParseProfile(path)
	require.NoError(t, err)
	require.Equal(t, "dhis2", profile.Params["db_name"])
	require.Equal(t, "example.org", profile.Params["domain"])
}

func TestParseProfile_RejectsUnknownKeys(t *testing.T) {
	path := writeProfile(t, `
[params]
db_name = "dhis2"

[extra]
whoops = true
`)

	_, err := ParseProfile(path)
	var cfgErr *proverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestParseProfile_Malformed(t *testing.T) {
	path := writeProfile(t, "[params\ndb_name=")

	_, err := ParseProfile(path)
	var parseErr *proverrors.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func testCatalog(params ...ParamSpec) *Catalog {
	return &Catalog{
		Version: "1.0",
		Name:    "test",
		Params:  params,
		Actions: []ActionSpec{{ID: "noop", Type: "command", Enabled: true, Command: &CommandAction{Command: "true"}}},
	}
}

func TestResolveParams_AppliesDefaults(t *testing.T) {
	catalog := testCatalog(
		ParamSpec{Name: "http_port", Default: "8080", Validate: "port"},
	)

	params, err := ResolveParams(catalog, &Profile{Params: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, "8080", params["http_port"])
}

func TestResolveParams_ProfileOverridesDefault(t *testing.T) {
	catalog := testCatalog(
		ParamSpec{Name: "http_port", Default: "8080", Validate: "port"},
	)

	params, err := ResolveParams(catalog, &Profile{Params: map[string]string{"http_port": "9090"}})
	require.NoError(t, err)
	require.Equal(t, "9090", params["http_port"])
}

func TestResolveParams_SecretFromEnvironment(t *testing.T) {
	catalog := testCatalog(
		ParamSpec{Name: "db_password", Required: true, Secret: true},
	)

	t.Setenv("PROVISION_DB_PASSWORD", "s3cret")

	params, err := ResolveParams(catalog, &Profile{Params: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, "s3cret", params["db_password"])
}

func TestResolveParams_ListsAllMissingKeysAtOnce(t *testing.T) {
	catalog := testCatalog(
		ParamSpec{Name: "db_name", Required: true},
		ParamSpec{Name: "domain", Required: true, Validate: "fqdn"},
		ParamSpec{Name: "server_ip", Required: true, Validate: "ip"},
	)

	_, err := ResolveParams(catalog, &Profile{Params: map[string]string{}})

	var cfgErr *proverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Len(t, cfgErr.Issues, 3)
	require.Contains(t, err.Error(), "params.db_name")
	require.Contains(t, err.Error(), "params.domain")
	require.Contains(t, err.Error(), "params.server_ip")
}

func TestResolveParams_RejectsUndeclaredParameter(t *testing.T) {
	catalog := testCatalog(ParamSpec{Name: "db_name", Required: true})

	_, err := ResolveParams(catalog, &Profile{Params: map[string]string{
		"db_name": "dhis2",
		"dd_name": "typo",
	}})

	var cfgErr *proverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "params.dd_name")
	require.Contains(t, err.Error(), "unknown parameter")
}

func TestResolveParams_ValueRules(t *testing.T) {
	catalog := testCatalog(
		ParamSpec{Name: "domain", Required: true, Validate: "fqdn"},
		ParamSpec{Name: "http_port", Required: true, Validate: "port"},
	)

	_, err := ResolveParams(catalog, &Profile{Params: map[string]string{
		"domain":    "not a domain",
		"http_port": "70000",
	}})

	var cfgErr *proverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Len(t, cfgErr.Issues, 2)
}

func TestResolveParams_EmptyDomainFailsValidation(t *testing.T) {
	catalog := testCatalog(ParamSpec{Name: "domain", Required: true, Validate: "fqdn"})

	_, err := ResolveParams(catalog, &Profile{Params: map[string]string{"domain": ""}})
	require.Error(t, err)
}

func TestLoadEnvFile_OptionalMissing(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), true))
}

func TestLoadEnvFile_LoadsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PROVISION_API_TOKEN=tok\n"), 0o600))

	require.NoError(t, LoadEnvFile(path, false))
	t.Cleanup(func() { os.Unsetenv("PROVISION_API_TOKEN") })
	require.Equal(t, "tok", os.Getenv("PROVISION_API_TOKEN"))
}
