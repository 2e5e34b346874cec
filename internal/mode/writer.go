package mode

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed modes.yaml
var defaultModes []byte

// Defaults returns the built-in profiles.
func Defaults() (*Set, error) {
	return parseSet(defaultModes)
}

// WriteSet writes a profile set to a YAML file
func WriteSet(set *Set, path string) error {
	data, err := yaml.Marshal(set)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadSet reads a profile set from a YAML file
func ReadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSet(data)
}

func parseSet(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	for i := range set.Modes {
		if err := set.Modes[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &set, nil
}

// Load returns the built-in profiles overlaid with the ones in path, if given.
func Load(path string) (*Set, error) {
	set, err := Defaults()
	if err != nil {
		return nil, fmt.Errorf("built-in modes: %w", err)
	}
	if path == "" {
		return set, nil
	}
	override, err := ReadSet(path)
	if err != nil {
		return nil, fmt.Errorf("modes file %s: %w", path, err)
	}
	set.Merge(override)
	return set, nil
}

// Merge replaces profiles with the same name and appends new ones.
func (s *Set) Merge(other *Set) {
	for _, p := range other.Modes {
		replaced := false
		for i := range s.Modes {
			if s.Modes[i].Name == p.Name {
				s.Modes[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.Modes = append(s.Modes, p)
		}
	}
}

// Lookup finds a profile by name.
func (s *Set) Lookup(name string) (*Profile, error) {
	for i := range s.Modes {
		if s.Modes[i].Name == name {
			p := s.Modes[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("unknown mode %q (available: %v)", name, s.Names())
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Modes))
	for _, p := range s.Modes {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
