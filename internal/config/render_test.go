package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender_PassthroughWithoutTemplates(t *testing.T) {
	out, err := Render("apt-get install -y nginx", nil)
	require.NoError(t, err)
	require.Equal(t, "apt-get install -y nginx", out)
}

func TestRender_ExpandsParams(t *testing.T) {
	out, err := Render("createdb {{ .Params.db_name }}", map[string]string{"db_name": "dhis2"})
	require.NoError(t, err)
	require.Equal(t, "createdb dhis2", out)
}

func TestRender_MissingParamFails(t *testing.T) {
	_, err := Render("{{ .Params.nope }}", map[string]string{})
	require.Error(t, err)
}

func TestRender_InvalidTemplateFails(t *testing.T) {
	_, err := Render("{{ .Params.db_name", map[string]string{"db_name": "x"})
	require.Error(t, err)
}

func TestRenderAll_InPlace(t *testing.T) {
	cmd := "systemctl restart {{ .Params.unit }}"
	check := "systemctl is-active {{ .Params.unit }}"

	err := RenderAll(map[string]string{"unit": "tomcat9"}, &cmd, &check, nil)
	require.NoError(t, err)
	require.Equal(t, "systemctl restart tomcat9", cmd)
	require.Equal(t, "systemctl is-active tomcat9", check)
}
