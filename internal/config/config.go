// Package config provides configuration management for docsmith using
// Viper, loading values from .docsmith.yml, DOCSMITH_ environment
// variables and command-line flags.
//
// Relative directories are resolved against the working directory at the
// time the accessor methods are called.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the default configuration file name, without extension.
const FileName = ".docsmith"

type Config struct {
	Title      string         `mapstructure:"title" yaml:"title"`
	SourceDir  string         `mapstructure:"source_dir" yaml:"source_dir"`
	OutputDir  string         `mapstructure:"output_dir" yaml:"output_dir"`
	Extensions []string       `mapstructure:"extensions" yaml:"extensions"`
	Template   TemplateConfig `mapstructure:"template" yaml:"template"`
	Server     ServerConfig   `mapstructure:"server" yaml:"server"`
	Reload     ReloadConfig   `mapstructure:"reload" yaml:"reload"`
	Render     RenderConfig   `mapstructure:"render" yaml:"render"`
	Logging    LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

type TemplateConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	Name string `mapstructure:"name" yaml:"name"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Open bool   `mapstructure:"open" yaml:"open"`
}

type ReloadConfig struct {
	KeepAlive   time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
	Buffer      int           `mapstructure:"buffer" yaml:"buffer"`
	RenameDelay time.Duration `mapstructure:"rename_delay" yaml:"rename_delay"`
}

type RenderConfig struct {
	HighlightStyle string `mapstructure:"highlight_style" yaml:"highlight_style"`
	Unsafe         bool   `mapstructure:"unsafe" yaml:"unsafe"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	return &Config{
		Title:      "Docs",
		SourceDir:  "src",
		OutputDir:  "build",
		Extensions: []string{".md", ".markdown"},
		Template: TemplateConfig{
			Dir:  ".docsmith/templates",
			Name: "blog",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 5002,
			Open: true,
		},
		Reload: ReloadConfig{
			KeepAlive:   15 * time.Second,
			Buffer:      8,
			RenameDelay: 100 * time.Millisecond,
		},
		Render: RenderConfig{
			HighlightStyle: "monokai",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with viper so env vars and partial
// files layer over a complete configuration.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("title", d.Title)
	v.SetDefault("source_dir", d.SourceDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("extensions", d.Extensions)
	v.SetDefault("template.dir", d.Template.Dir)
	v.SetDefault("template.name", d.Template.Name)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("reload.keepalive", d.Reload.KeepAlive)
	v.SetDefault("reload.buffer", d.Reload.Buffer)
	v.SetDefault("reload.rename_delay", d.Reload.RenameDelay)
	v.SetDefault("render.highlight_style", d.Render.HighlightStyle)
	v.SetDefault("render.unsafe", d.Render.Unsafe)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Viper leaves comma separated env values as a single element.
	if len(config.Extensions) == 1 && strings.Contains(config.Extensions[0], ",") {
		config.Extensions = strings.Split(config.Extensions[0], ",")
	}
	for i, ext := range config.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		config.Extensions[i] = ext
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SourceRoot returns the absolute source directory.
func (c *Config) SourceRoot() (string, error) {
	return filepath.Abs(c.SourceDir)
}

// OutputRoot returns the absolute output directory.
func (c *Config) OutputRoot() (string, error) {
	return filepath.Abs(c.OutputDir)
}

// TemplateRoot returns the absolute directory of the selected template.
func (c *Config) TemplateRoot() (string, error) {
	return filepath.Abs(filepath.Join(c.Template.Dir, c.Template.Name))
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	for key, dir := range map[string]string{
		"source_dir":   config.SourceDir,
		"output_dir":   config.OutputDir,
		"template.dir": config.Template.Dir,
	} {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if config.Template.Name == "" || strings.ContainsAny(config.Template.Name, `/\`) {
		return fmt.Errorf("template.name must be a plain directory name, got %q", config.Template.Name)
	}

	// The output tree must not be watched, or every write would trigger
	// another rebuild.
	if overlaps(config.SourceDir, config.OutputDir) {
		return fmt.Errorf("source_dir and output_dir must not contain each other")
	}
	// Clearing the output root must never reach the templates.
	if overlaps(config.Template.Dir, config.OutputDir) {
		return fmt.Errorf("template.dir and output_dir must not contain each other")
	}

	if len(config.Extensions) == 0 {
		return fmt.Errorf("extensions: at least one document extension is required")
	}
	for _, ext := range config.Extensions {
		if len(ext) < 2 || strings.ContainsAny(ext[1:], `./\`) {
			return fmt.Errorf("extensions: invalid extension %q", ext)
		}
		if ext == ".html" {
			return fmt.Errorf("extensions: %q collides with the output extension", ext)
		}
	}

	if config.Reload.KeepAlive <= 0 {
		return fmt.Errorf("reload.keepalive must be positive")
	}
	if config.Reload.Buffer < 1 {
		return fmt.Errorf("reload.buffer must be at least 1")
	}
	if config.Reload.RenameDelay < 0 {
		return fmt.Errorf("reload.rename_delay cannot be negative")
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", config.Logging.Format)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// 0 lets the OS pick a port, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validatePath validates a configured directory
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	return nil
}

// within reports whether child is parent or lies below it.
func within(parent, child string) bool {
	parentAbs, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	childAbs, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parentAbs, childAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}
