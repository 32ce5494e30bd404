package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	proverrors "github.com/hostplane/provision/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseCatalog loads an action catalog from disk, validates it, and returns
// the resulting model. Decoding is strict: a key the catalog schema does not
// declare rejects the document rather than being silently dropped.
func ParseCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proverrors.NewParseError(path, 0, err)
	}

	var catalog Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, proverrors.NewParseError(path, 0, errors.New("empty document"))
		}
		var cfgErr *proverrors.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, cfgErr
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			issues := make([]proverrors.ConfigIssue, 0, len(typeErr.Errors))
			for _, msg := range typeErr.Errors {
				issues = append(issues, proverrors.ConfigIssue{Message: msg})
			}
			return nil, proverrors.NewConfigErrors(issues)
		}
		return nil, proverrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateCatalog(&catalog); err != nil {
		return nil, err
	}

	return &catalog, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
