package config

import (
	"fmt"
	"strings"
	"text/template"
)

// Render expands parameter references in a catalog string. Templates use the
// standard text/template syntax with parameters exposed under .Params, e.g.
// "{{ .Params.db_name }}". Missing parameters are an error so typos fail the
// run instead of producing empty substitutions.
func Render(s string, params map[string]string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	tmpl, err := template.New("inline").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", s, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, templateData{Params: params}); err != nil {
		return "", fmt.Errorf("render %q: %w", s, err)
	}
	return b.String(), nil
}

// RenderAll expands every string in order, failing on the first bad template.
func RenderAll(params map[string]string, values ...*string) error {
	for _, value := range values {
		if value == nil {
			continue
		}
		rendered, err := Render(*value, params)
		if err != nil {
			return err
		}
		*value = rendered
	}
	return nil
}

type templateData struct {
	Params map[string]string
}
