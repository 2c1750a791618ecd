package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Static returns a Loader that always yields a copy of vals.
func Static(vals map[string]string) Loader {
	return func() (map[string]string, error) {
		return maps.Clone(vals), nil
	}
}

// FileLoader returns a Loader that layers the YAML map at path over base.
// Empty values in the file do not clear base values. A missing file yields
// base alone.
func FileLoader(fsys afero.Fs, path string, base map[string]string) Loader {
	return func() (map[string]string, error) {
		vals := maps.Clone(base)
		if vals == nil {
			vals = make(map[string]string)
		}
		data, err := afero.ReadFile(fsys, path)
		if errors.Is(err, fs.ErrNotExist) {
			return vals, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read secrets file %s: %w", path, err)
		}
		var file map[string]string
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
		}
		for k, v := range file {
			if v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
