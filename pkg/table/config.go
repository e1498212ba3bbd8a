package table

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/colstore/pkg/engine"
	"github.com/dd0wney/colstore/pkg/validation"
)

// Config mirrors spec §6's recognized configuration options, shared by
// every column family under a Table; there is no per-CF override.
type Config struct {
	FlushThreshold         int   `yaml:"flush_threshold"`
	CompactionIntervalMs   int   `yaml:"compaction_interval_ms"`
	MinorCompactionTrigger int   `yaml:"minor_compaction_trigger"`
	TombstoneGraceMs       int64 `yaml:"tombstone_grace_ms"`
}

// DefaultConfig returns the defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		FlushThreshold:         10_000,
		CompactionIntervalMs:   60_000,
		MinorCompactionTrigger: 4,
		TombstoneGraceMs:       0,
	}
}

// LoadConfig reads config.yaml at path if present, overlaying it on
// the defaults; a missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, engine.IOError("table.load_config", "table", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, engine.CorruptionError("table.load_config", "table", err.Error())
	}

	if err := validation.ValidateTableConfig(&validation.TableConfigRequest{
		FlushThreshold:         cfg.FlushThreshold,
		CompactionIntervalMs:   cfg.CompactionIntervalMs,
		MinorCompactionTrigger: cfg.MinorCompactionTrigger,
		TombstoneGraceMs:       int(cfg.TombstoneGraceMs),
	}); err != nil {
		return cfg, engine.InvalidArgument("table.load_config", err.Error())
	}

	return cfg, nil
}

// Save writes the config as YAML to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
