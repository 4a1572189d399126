// Package config loads the engine's YAML-configured tunables: grid
// geometry, the fluid registry, worker-pool sizing and the tick
// interval. It keeps the teacher's own config/settings.go shape —
// defaults first, then an optional file overlay, with a hot-reload
// entry point — decoding YAML instead of JSON.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FluidTypeSettings names one registered fluid in the YAML scenario
// file, mirroring core.FluidType without importing core (config stays a
// leaf package with no engine dependency, matching the teacher's own
// config/settings.go, which never imports its sibling domain packages).
type FluidTypeSettings struct {
	Viscosity uint8  `yaml:"viscosity"`
	Label     string `yaml:"label"`
}

// GridSettings is the §4.1/§6 world geometry: chunk side K, block side
// M, and the world's extent in blocks.
type GridSettings struct {
	ChunkSide  int     `yaml:"chunkSide"`
	BlockSide  int     `yaml:"blockSide"`
	BlocksX    int     `yaml:"blocksX"`
	BlocksY    int     `yaml:"blocksY"`
	BlocksZ    int     `yaml:"blocksZ"`
	VoxelSizeM float32 `yaml:"voxelSizeM"`
}

// SchedulerSettings tunes the §4.5 worker pool.
type SchedulerSettings struct {
	Workers      int     `yaml:"workers"`
	TickRateHz   float64 `yaml:"tickRateHz"`
	QuiescenceMs int     `yaml:"quiescenceTimeoutMs"`
}

// Settings is the full engine configuration, defaults-first the way the
// teacher's Settings is, now covering the fluid engine's own knobs
// instead of icosphere/GPU/server settings.
type Settings struct {
	Grid       GridSettings        `yaml:"grid"`
	Scheduler  SchedulerSettings   `yaml:"scheduler"`
	FluidTypes []FluidTypeSettings `yaml:"fluidTypes"`
	LogLevel   string              `yaml:"logLevel"`
}

func defaults() Settings {
	return Settings{
		Grid: GridSettings{
			ChunkSide:  8,
			BlockSide:  2,
			BlocksX:    1,
			BlocksY:    1,
			BlocksZ:    1,
			VoxelSizeM: 1.0,
		},
		Scheduler: SchedulerSettings{
			Workers:      0,
			TickRateHz:   30,
			QuiescenceMs: 5000,
		},
		FluidTypes: []FluidTypeSettings{
			{Viscosity: 255, Label: "water"},
			{Viscosity: 20, Label: "lava"},
		},
		LogLevel: "info",
	}
}

// Load reads path, falling back to coded defaults if the file does not
// exist — the teacher's own "no settings.json found, use defaults"
// branch, unchanged in shape.
func Load(path string) (Settings, error) {
	s := defaults()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return Settings{}, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return s, nil
}

// Reload re-reads path and reports whether the grid geometry changed —
// a geometry change invalidates every live block's buffers, so (like
// the teacher's reloadSettings, which flags "restart required" on an
// icosphere-level change) the caller must rebuild the world rather than
// hot-swap it in place.
func Reload(path string, previous Settings) (Settings, bool, error) {
	next, err := Load(path)
	if err != nil {
		return Settings{}, false, err
	}
	restartRequired := next.Grid != previous.Grid
	return next, restartRequired, nil
}
