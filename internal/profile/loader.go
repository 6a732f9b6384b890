package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type profileFile struct {
	Profiles []SelectorBundle `yaml:"profiles"`
}

// LoadFile reads selector bundles from a YAML document of the form
//
//	profiles:
//	  - name: Acme
//	    items: ".tile"
//	    url_markers: ["acme-shop"]
func LoadFile(path string) ([]SelectorBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	return f.Profiles, nil
}

// LoadFile registers every bundle found in the YAML file at path.
func (r *Registry) LoadFile(path string) error {
	bundles, err := LoadFile(path)
	if err != nil {
		return err
	}

	for _, b := range bundles {
		if err := r.Register(b); err != nil {
			return fmt.Errorf("failed to register profile from %s: %w", path, err)
		}
	}

	return nil
}
