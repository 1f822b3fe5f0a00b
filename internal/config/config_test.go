package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "localhost:5002", cfg.Address())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "custom directories",
			setup: func(v *viper.Viper) {
				v.Set("source_dir", "docs")
				v.Set("output_dir", "public")
				v.Set("template.name", "minimal")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "docs", cfg.SourceDir)
				assert.Equal(t, "public", cfg.OutputDir)
				assert.Equal(t, "minimal", cfg.Template.Name)
			},
		},
		{
			name: "extensions are normalized",
			setup: func(v *viper.Viper) {
				v.Set("extensions", []string{"MD", " .txt "})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{".md", ".txt"}, cfg.Extensions)
			},
		},
		{
			name: "durations from strings",
			setup: func(v *viper.Viper) {
				v.Set("reload.keepalive", "3s")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.Reload.KeepAlive)
			},
		},
		{
			name: "invalid port type",
			setup: func(v *viper.Viper) {
				v.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "traversal in output dir",
			setup: func(v *viper.Viper) {
				v.Set("output_dir", "../elsewhere")
			},
			expectError: true,
		},
		{
			name: "same source and output",
			setup: func(v *viper.Viper) {
				v.Set("source_dir", "site")
				v.Set("output_dir", "./site")
			},
			expectError: true,
		},
		{
			name: "output inside source",
			setup: func(v *viper.Viper) {
				v.Set("source_dir", "site")
				v.Set("output_dir", "site/_build")
			},
			expectError: true,
		},
		{
			name: "source inside output",
			setup: func(v *viper.Viper) {
				v.Set("source_dir", "public/src")
				v.Set("output_dir", "public")
			},
			expectError: true,
		},
		{
			name: "output inside template dir",
			setup: func(v *viper.Viper) {
				v.Set("output_dir", ".docsmith/templates/out")
			},
			expectError: true,
		},
		{
			name: "output contains template dir",
			setup: func(v *viper.Viper) {
				v.Set("output_dir", ".docsmith")
			},
			expectError: true,
		},
		{
			name: "output is template dir",
			setup: func(v *viper.Viper) {
				v.Set("output_dir", ".docsmith/templates")
			},
			expectError: true,
		},
		{
			name: "sibling with common prefix",
			setup: func(v *viper.Viper) {
				v.Set("source_dir", "site")
				v.Set("output_dir", "site-build")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "site-build", cfg.OutputDir)
			},
		},
		{
			name: "html is not a document extension",
			setup: func(v *viper.Viper) {
				v.Set("extensions", []string{".html"})
			},
			expectError: true,
		},
		{
			name: "template name with separator",
			setup: func(v *viper.Viper) {
				v.Set("template.name", "a/b")
			},
			expectError: true,
		},
		{
			name: "zero keepalive",
			setup: func(v *viper.Viper) {
				v.Set("reload.keepalive", 0)
			},
			expectError: true,
		},
		{
			name: "unknown log format",
			setup: func(v *viper.Viper) {
				v.Set("logging.format", "xml")
			},
			expectError: true,
		},
		{
			name: "dangerous host",
			setup: func(v *viper.Viper) {
				v.Set("server.host", "localhost;rm")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".docsmith.yml")
	content := `source_dir: content
server:
  port: 9000
  open: false
reload:
  rename_delay: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "content", cfg.SourceDir)
	assert.Equal(t, "build", cfg.OutputDir)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Server.Open)
	assert.Equal(t, 250*time.Millisecond, cfg.Reload.RenameDelay)
}

func TestLoadGlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.port", 8123)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestRoots(t *testing.T) {
	cfg := Default()
	wd, err := os.Getwd()
	require.NoError(t, err)

	src, err := cfg.SourceRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "src"), src)

	out, err := cfg.OutputRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "build"), out)

	tpl, err := cfg.TemplateRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, ".docsmith", "templates", "blog"), tpl)
}
