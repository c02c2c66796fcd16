// Package config provides configuration loading and management for lbrdiffusion.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"lbrdiffusion/pkg/diffusion"
	"lbrdiffusion/pkg/structuretensor"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Diffusion parameters of the nonlinear run
	Diffusion struct {
		// DiffusionTime is the total diffusion time
		DiffusionTime float64 `yaml:"diffusionTime"`

		// Lambda is the contrast threshold of the eigenvalue remap
		Lambda float64 `yaml:"lambda"`

		// Enhancement is one of CED, cCED, EED, cEED, Isotropic
		Enhancement diffusion.Enhancement `yaml:"enhancement"`

		// NoiseScale is the gradient smoothing scale of the structure tensor
		NoiseScale float64 `yaml:"noiseScale"`

		// FeatureScale is the outer product smoothing scale of the structure tensor
		FeatureScale float64 `yaml:"featureScale"`

		Exponent float64 `yaml:"exponent"`
		Alpha    float64 `yaml:"alpha"`

		// RatioToMaxStableTimeStep must lie in ]0,1]
		RatioToMaxStableTimeStep float64 `yaml:"ratioToMaxStableTimeStep"`

		// MaxTimeStepsBetweenTensorUpdates bounds each linear run
		MaxTimeStepsBetweenTensorUpdates int `yaml:"maxTimeStepsBetweenTensorUpdates"`

		// Adimensionize normalizes the spacing and the structure tensor scale
		Adimensionize bool `yaml:"adimensionize"`

		// Gradient is gaussian-derivative or smooth-then-difference
		Gradient structuretensor.GradientMode `yaml:"gradient"`
	} `yaml:"diffusion"`

	// Input parameters
	Input struct {
		// SliceGap is the physical distance between consecutive slices of a stack,
		// in units of the in-plane pixel size
		SliceGap float64 `yaml:"sliceGap"`

		// Grayscale converts color input to a single channel
		Grayscale bool `yaml:"grayscale"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogJSON writes logs as JSON instead of console text
		LogJSON bool `yaml:"logJSON"`

		// SlicesAxis is the axis (x, y or z) along which volumes are exported
		SlicesAxis string `yaml:"slicesAxis"`

		// Format is the slice file format: png, jpg, tif or bmp
		Format string `yaml:"format"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	d := diffusion.DefaultConfig()
	cfg.Diffusion.DiffusionTime = d.DiffusionTime
	cfg.Diffusion.Lambda = d.Lambda
	cfg.Diffusion.Enhancement = d.Enhancement
	cfg.Diffusion.NoiseScale = d.NoiseScale
	cfg.Diffusion.FeatureScale = d.FeatureScale
	cfg.Diffusion.Exponent = d.Exponent
	cfg.Diffusion.Alpha = d.Alpha
	cfg.Diffusion.RatioToMaxStableTimeStep = d.RatioToMaxStableTimeStep
	cfg.Diffusion.MaxTimeStepsBetweenTensorUpdates = d.MaxTimeStepsBetweenTensorUpdates
	cfg.Diffusion.Adimensionize = d.Adimensionize
	cfg.Diffusion.Gradient = d.Gradient

	cfg.Input.SliceGap = 1.0
	cfg.Input.Grayscale = false

	cfg.Output.Verbose = false
	cfg.Output.LogJSON = false
	cfg.Output.SlicesAxis = "z"
	cfg.Output.Format = "png"

	return cfg
}

// DiffusionConfig converts the diffusion section into run parameters.
func (c *Config) DiffusionConfig() diffusion.Config {
	return diffusion.Config{
		DiffusionTime:                    c.Diffusion.DiffusionTime,
		Lambda:                           c.Diffusion.Lambda,
		Enhancement:                      c.Diffusion.Enhancement,
		NoiseScale:                       c.Diffusion.NoiseScale,
		FeatureScale:                     c.Diffusion.FeatureScale,
		Exponent:                         c.Diffusion.Exponent,
		Alpha:                            c.Diffusion.Alpha,
		RatioToMaxStableTimeStep:         c.Diffusion.RatioToMaxStableTimeStep,
		MaxTimeStepsBetweenTensorUpdates: c.Diffusion.MaxTimeStepsBetweenTensorUpdates,
		Adimensionize:                    c.Diffusion.Adimensionize,
		Gradient:                         c.Diffusion.Gradient,
		Workers:                          c.Processing.NumCores,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Keys absent from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.DiffusionConfig().Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	if !(cfg.Input.SliceGap > 0) {
		return nil, fmt.Errorf("config file %s: slice gap must be positive, got %v", configPath, cfg.Input.SliceGap)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
