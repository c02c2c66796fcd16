package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lbrdiffusion/pkg/diffusion"
	"lbrdiffusion/pkg/structuretensor"
)

func TestDefaultConfigMatchesRunDefaults(t *testing.T) {
	cfg := DefaultConfig()
	d := cfg.DiffusionConfig()
	require.NoError(t, d.Validate())

	want := diffusion.DefaultConfig()
	want.Workers = cfg.Processing.NumCores
	assert.Equal(t, want, d)
	assert.Equal(t, "z", cfg.Output.SlicesAxis)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Diffusion.Enhancement = diffusion.CCED
	cfg.Diffusion.Gradient = structuretensor.SmoothThenDifference
	cfg.Diffusion.DiffusionTime = 7.5
	cfg.Input.SliceGap = 3
	require.NoError(t, SaveConfig(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "enhancement: cCED")
	assert.Contains(t, string(data), "gradient: smooth-then-difference")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("diffusion:\n  enhancement: EED\n  lambda: 0.2\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, diffusion.EED, cfg.Diffusion.Enhancement)
	assert.Equal(t, 0.2, cfg.Diffusion.Lambda)
	assert.Equal(t, diffusion.DefaultConfig().DiffusionTime, cfg.Diffusion.DiffusionTime)
	assert.Equal(t, 1.0, cfg.Input.SliceGap)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown mode":   "diffusion:\n  enhancement: median\n",
		"negative time":  "diffusion:\n  diffusionTime: -1\n",
		"ratio too big":  "diffusion:\n  ratioToMaxStableTimeStep: 2\n",
		"zero slice gap": "input:\n  sliceGap: 0\n",
		"not yaml":       "diffusion: [\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}

	path := filepath.Join(dir, "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("diffusion:\n  alpha: 0\n"), 0644))
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, diffusion.ErrInvalidConfig)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
