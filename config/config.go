// Package config holds the runtime options of the element graph and the
// command line tool. Options can be loaded from TOML, YAML or HCL files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// Default values applied to zero fields
const (
	DefaultFirstSideID             = 1
	DefaultBoundaryFacesPerElement = 6
	DefaultCompressThreshold       = 64 * 1024
	DefaultLogLevel                = "info"
)

// Options control graph construction and the communication substrate
type Options struct {
	// First id handed out by the side id pool
	FirstSideID int `toml:"first_side_id" yaml:"first_side_id" hcl:"first_side_id,optional"`

	// Elements outside SkinPart are not part of the body to be skinned. Empty
	// means every element is.
	SkinPart string `toml:"skin_part" yaml:"skin_part" hcl:"skin_part,optional"`

	// Elements in AirPart are void material
	AirPart string `toml:"air_part" yaml:"air_part" hcl:"air_part,optional"`

	// Per-element allowance of side ids reserved at construction
	BoundaryFacesPerElement int `toml:"boundary_faces_per_element" yaml:"boundary_faces_per_element" hcl:"boundary_faces_per_element,optional"`

	// Exchange payloads above this many bytes are compressed; negative
	// disables compression
	CompressThreshold int `toml:"compress_threshold" yaml:"compress_threshold" hcl:"compress_threshold,optional"`

	Log *LogConfig `toml:"log" yaml:"log" hcl:"log,block"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level string `toml:"level" yaml:"level" hcl:"level,optional"`
	// Logfile enables rotating file output when set
	Logfile string `toml:"logfile" yaml:"logfile" hcl:"logfile,optional"`
	MaxSize int    `toml:"max_log_size" yaml:"max_log_size" hcl:"max_log_size,optional"` // MB
	MaxAge  int    `toml:"max_log_age" yaml:"max_log_age" hcl:"max_log_age,optional"`    // days
	JSON    bool   `toml:"json" yaml:"json" hcl:"json,optional"`
}

// Default returns options with every default applied
func Default() Options {
	var o Options
	o.ApplyDefaults()
	return o
}

// ApplyDefaults fills zero fields with their defaults
func (o *Options) ApplyDefaults() {
	if o.FirstSideID == 0 {
		o.FirstSideID = DefaultFirstSideID
	}
	if o.BoundaryFacesPerElement == 0 {
		o.BoundaryFacesPerElement = DefaultBoundaryFacesPerElement
	}
	if o.CompressThreshold == 0 {
		o.CompressThreshold = DefaultCompressThreshold
	}
	if o.Log == nil {
		o.Log = &LogConfig{}
	}
	if o.Log.Level == "" {
		o.Log.Level = DefaultLogLevel
	}
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.FirstSideID < 1 {
		return fmt.Errorf("first_side_id must be positive, got %d", o.FirstSideID)
	}
	if o.BoundaryFacesPerElement < 0 {
		return fmt.Errorf("boundary_faces_per_element must not be negative, got %d", o.BoundaryFacesPerElement)
	}
	if o.SkinPart != "" && o.SkinPart == o.AirPart {
		return fmt.Errorf("skin_part and air_part are both %q", o.SkinPart)
	}
	return nil
}

// Load reads options from path, choosing the decoder by file extension
func Load(path string) (Options, error) {
	var o Options
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &o); err != nil {
			return o, fmt.Errorf("could not decode TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return o, err
		}
		if err := yaml.Unmarshal(data, &o); err != nil {
			return o, fmt.Errorf("could not decode YAML config %s: %w", path, err)
		}
	case ".hcl":
		if err := hclsimple.DecodeFile(path, nil, &o); err != nil {
			return o, fmt.Errorf("could not decode HCL config %s: %w", path, err)
		}
	default:
		return o, fmt.Errorf("unsupported config extension %q for %s", ext, path)
	}
	o.ApplyDefaults()
	if err := o.Validate(); err != nil {
		return o, fmt.Errorf("config %s: %w", path, err)
	}
	return o, nil
}
