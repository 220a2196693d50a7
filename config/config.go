// Package config loads a DynamicExtension's construction-time
// configuration from TOML, using github.com/naoina/toml the way
// go-ethereum's cmd/geth/config.go loads node configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/naoina/toml"

	"github.com/psu-db/dynext/level"
)

// File is the on-disk shape of a dynext configuration file:
//
//	buffer_capacity = 12000
//	scale_factor = 4
//	max_tombstone_proportion = 0.25
//	discipline = "tiering"
//	async_flush = false
type File struct {
	BufferCapacity         int     `toml:"buffer_capacity"`
	ScaleFactor            int     `toml:"scale_factor"`
	MaxTombstoneProportion float64 `toml:"max_tombstone_proportion"`
	Discipline             string  `toml:"discipline"`
	AsyncFlush             bool    `toml:"async_flush"`
}

// ParsedDiscipline parses the configured discipline string ("tiering" or
// "leveling", case-insensitive; default "tiering").
func (f File) ParsedDiscipline() (level.Discipline, error) {
	switch strings.ToLower(f.Discipline) {
	case "", "tiering":
		return level.Tiering, nil
	case "leveling":
		return level.Leveling, nil
	default:
		return 0, fmt.Errorf("config: unknown discipline %q", f.Discipline)
	}
}

// Load reads and parses a TOML configuration file from path.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a TOML configuration from r.
func Decode(r io.Reader) (File, error) {
	var cfg File
	if err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return File{}, fmt.Errorf("config: parsing toml: %w", err)
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 12000
	}
	if cfg.ScaleFactor < 2 {
		cfg.ScaleFactor = 4
	}
	if cfg.MaxTombstoneProportion <= 0 {
		cfg.MaxTombstoneProportion = 0.25
	}
	return cfg, nil
}
