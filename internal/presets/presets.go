// Package presets holds the library of named what-if scenarios
package presets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrcode/glucose-twin/internal/models"
)

//go:embed presets.yaml
var builtin []byte

// ErrUnknown is returned for a preset name that is not in the library
var ErrUnknown = errors.New("unknown preset")

// Preset is one named scenario
type Preset struct {
	Name        string                `yaml:"name" json:"name"`
	Description string                `yaml:"description" json:"description"`
	Scenario    models.ScenarioParams `yaml:"scenario" json:"scenario_params"`
}

// UnmarshalYAML starts the scenario from the defaults so presets only list
// what they change
func (p *Preset) UnmarshalYAML(node *yaml.Node) error {
	type plain Preset
	raw := plain{Scenario: models.DefaultScenario()}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = Preset(raw)
	return nil
}

type document struct {
	Presets []Preset `yaml:"presets"`
}

// Library is an immutable name-indexed preset set
type Library struct {
	byName map[string]Preset
}

// Load returns the built-in library, overlaid with the presets in path
// when path is not empty. User presets replace built-ins of the same name.
func Load(path string) (*Library, error) {
	lib := &Library{byName: map[string]Preset{}}
	if err := lib.merge(builtin); err != nil {
		return nil, fmt.Errorf("parsing built-in presets: %w", err)
	}
	if path == "" {
		return lib, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets file: %w", err)
	}
	if err := lib.merge(data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return lib, nil
}

func (l *Library) merge(data []byte) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	for i, p := range doc.Presets {
		name := normalize(p.Name)
		if name == "" {
			return fmt.Errorf("preset %d has no name", i+1)
		}
		p.Name = name
		p.Scenario = p.Scenario.Normalize()
		l.byName[name] = p
	}
	return nil
}

// Get looks a preset up by name, ignoring case and surrounding space
func (l *Library) Get(name string) (Preset, error) {
	p, ok := l.byName[normalize(name)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return p, nil
}

// Names lists every preset name in sorted order
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.byName))
	for n := range l.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every preset ordered by name
func (l *Library) All() []Preset {
	out := make([]Preset, 0, len(l.byName))
	for _, n := range l.Names() {
		out = append(out, l.byName[n])
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
