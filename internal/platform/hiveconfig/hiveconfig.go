// Package hiveconfig loads the static description of a valley's meadows and
// resource classes that a beekeeper process needs at startup (SPEC_FULL.md
// §10): which meadow backends exist, what their submission limits are, and
// which resource classes they serve. This is deliberately out of the
// coordinator core's scope (spec.md §1, "CLI parsing and configuration
// loading") — the Queen and profiler packages never import this package
// themselves, only the cmd/ entrypoints that wire them up do.
//
// Loading follows the same "env var names an override file, fall back to an
// embedded default" shape as the teacher's learning_build pipeline spec
// (internal/jobs/pipeline/learning_build/spec.go), adapted here from a
// pipeline stage graph to a meadow/resource-class roster.
package hiveconfig

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable a beekeeper sets to point at
// a hive.yaml on disk, overriding the embedded default.
const ConfigPathEnv = "HIVE_CONFIG_YAML"

//go:embed hive.yaml
var defaultConfigFS embed.FS

// ResourceClassSpec is one entry in the `resource_classes` list.
type ResourceClassSpec struct {
	Name string `yaml:"name"`
}

// MeadowSpec is one entry in the `meadows` list: which backend to construct
// and its submission tunables.
type MeadowSpec struct {
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Default bool   `yaml:"default"`
	// Slots is the driver's fixed capacity, used by the Local driver; -1
	// means unbounded.
	Slots int `yaml:"slots"`
	// MinRuntimeSeconds/MaxRuntimeSeconds bound the Local driver's simulated
	// per-worker runtime.
	MinRuntimeSeconds int `yaml:"min_runtime_seconds"`
	MaxRuntimeSeconds int `yaml:"max_runtime_seconds"`
}

// AnalysisSpec seeds analysis_base/analysis_stats for a fresh hive; a
// running hive's analyses are otherwise read-only from the Queen's
// perspective (spec.md §4.3 reads, never writes, analysis_base).
type AnalysisSpec struct {
	LogicName       string `yaml:"logic_name"`
	ResourceClass   string `yaml:"resource_class"`
	HiveCapacity    int    `yaml:"hive_capacity"`
	BatchSize       int    `yaml:"batch_size"`
}

// Config is the full valley roster a beekeeper loads at startup.
type Config struct {
	SubmitWorkersMax int                  `yaml:"submit_workers_max"`
	ResourceClasses  []ResourceClassSpec  `yaml:"resource_classes"`
	Meadows          []MeadowSpec         `yaml:"meadows"`
	Analyses         []AnalysisSpec       `yaml:"analyses"`
}

// DefaultMeadowType returns the Type of the meadow marked `default: true`, or
// the first meadow if none is marked.
func (c Config) DefaultMeadowType() string {
	for _, m := range c.Meadows {
		if m.Default {
			return m.Type
		}
	}
	if len(c.Meadows) > 0 {
		return c.Meadows[0].Type
	}
	return ""
}

// Load reads HIVE_CONFIG_YAML if set, otherwise the embedded default
// hive.yaml, and parses it into a Config.
func Load() (Config, error) {
	data, err := read()
	if err != nil {
		return Config{}, fmt.Errorf("hiveconfig: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("hiveconfig: parse: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		return os.ReadFile(path)
	}
	return defaultConfigFS.ReadFile("hive.yaml")
}

func validate(cfg Config) error {
	if len(cfg.Meadows) == 0 {
		return fmt.Errorf("hiveconfig: at least one meadow must be configured")
	}
	seen := map[string]bool{}
	for _, m := range cfg.Meadows {
		if m.Type == "" {
			return fmt.Errorf("hiveconfig: meadow missing type")
		}
		if seen[m.Type] {
			return fmt.Errorf("hiveconfig: duplicate meadow type %q", m.Type)
		}
		seen[m.Type] = true
	}
	return nil
}
