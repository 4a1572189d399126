package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedEdit is one scripted edit applied to the world before the first
// tick: a single voxel, added or removed, of either fluid or terrain.
type SeedEdit struct {
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
	Z    int    `yaml:"z"`
	Kind string `yaml:"kind"` // "fluid" or "terrain"
	Add  bool   `yaml:"add"`
}

// Scenario is a self-contained cmd/fluidsim run: the engine Settings
// plus the seed edits to apply and the tick budget (MaxTicks), which
// cmd/fluidsim runs in full before one time-bounded wait for the last
// tick to drain — the headless analogue of the teacher's
// main.go update loop, driven from a file instead of a render loop.
type Scenario struct {
	Settings       `yaml:",inline"`
	Seeds          []SeedEdit `yaml:"seeds"`
	MaxTicks       int        `yaml:"maxTicks"`
	TickIntervalMs int        `yaml:"tickIntervalMs"`
}

func scenarioDefaults() Scenario {
	return Scenario{
		Settings:       defaults(),
		MaxTicks:       1000,
		TickIntervalMs: 33,
	}
}

// LoadScenario reads a scenario file, overlaying it onto the same
// coded defaults Load uses. A missing file is an error here (unlike
// Load's "fall back to defaults" rule): a scenario run with no seed
// edits isn't a useful default, it's almost certainly a typo'd path.
func LoadScenario(path string) (Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("opening scenario %s: %w", path, err)
	}
	defer file.Close()

	s := scenarioDefaults()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("error parsing scenario %s: %w", path, err)
	}
	return s, nil
}
