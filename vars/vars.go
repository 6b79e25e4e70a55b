// Package vars assembles the variable space templates and hooks see:
// the process environment merged with an optional YAML file.
package vars

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrVariablesMissing = errors.New("variables file missing")
	ErrNotMapping       = errors.New("variables file must contain a mapping at the top level")
)

// Load returns the variable space for the given variables file.
// Environment variables are inserted first and keys from the file win.
// A missing file is only an error when the path was explicitly
// requested; the default path is allowed to be absent.
func Load(log hclog.Logger, path string, explicit bool) (map[string]interface{}, error) {
	variables := make(map[string]interface{})

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		variables[key] = value
	}

	fi, err := os.Stat(path)
	switch {
	case err != nil && os.IsNotExist(err):
		if explicit {
			return nil, errors.Wrapf(ErrVariablesMissing, "%s", path)
		}
		log.Debug("no variables file, using environment only", "path", path)
		return variables, nil
	case err != nil:
		return nil, errors.Wrapf(err, "opening variables file %s", path)
	case fi.IsDir():
		return nil, errors.Errorf(
			"problem opening configuration volume %s: path is a directory, expected a file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading variables file %s", path)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing variables file %s", path)
	}

	if doc == nil {
		// An empty file contributes nothing.
		return variables, nil
	}

	fileVars, ok := doc.(map[string]interface{})
	if !ok {
		return nil, errors.Wrapf(ErrNotMapping, "%s", path)
	}

	for key, value := range fileVars {
		variables[key] = value
	}

	log.Debug("loaded variables file", "path", path, "keys", len(fileVars))

	return variables, nil
}
