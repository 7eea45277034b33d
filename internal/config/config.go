package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/devsettings/internal/pattern"
)

// DefaultFileNames are the configuration file names looked up in the source
// package root, in order of preference.
var DefaultFileNames = []string{
	"developer-settings.yaml",
	"developer-settings.yml",
	"developer-settings.toml",
}

// Config represents the complete developer settings configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths" toml:"paths" json:"paths" jsonschema:"description=Files and directories published into the project"`
	Composer ComposerConfig `yaml:"composer" toml:"composer" json:"composer" jsonschema:"description=Dev dependencies merged into composer.json"`
	Hooks    HooksConfig    `yaml:"hooks" toml:"hooks" json:"hooks" jsonschema:"description=Command run after matching files changed"`
}

// PathsConfig lists what gets published, relative to the source package root
type PathsConfig struct {
	Directories []string `yaml:"directories" toml:"directories" json:"directories,omitempty" jsonschema:"description=Directories copied recursively"`
	Files       []string `yaml:"files" toml:"files" json:"files,omitempty" jsonschema:"description=Individual files"`
}

// ComposerConfig declares the require-dev packages to add and remove
type ComposerConfig struct {
	Install map[string]string `yaml:"install" toml:"install" json:"install,omitempty" jsonschema:"description=Package name to version constraint"`
	Remove  []string          `yaml:"remove" toml:"remove" json:"remove,omitempty" jsonschema:"description=Package names to drop"`
}

// HooksConfig configures the post-sync command
type HooksConfig struct {
	Patterns    []string `yaml:"patterns" toml:"patterns" json:"patterns,omitempty" jsonschema:"description=Glob patterns matched against changed files"`
	Command     string   `yaml:"command" toml:"command" json:"command,omitempty" jsonschema:"description=Shell command run once when a pattern matches"`
	Description string   `yaml:"description" toml:"description" json:"description,omitempty" jsonschema:"description=Label printed while the command runs"`
}

// Find returns the first default configuration file present in dir
func Find(dir string) (string, error) {
	return FindFS(afero.NewOsFs(), dir)
}

// FindFS is Find on an arbitrary filesystem
func FindFS(fs afero.Fs, dir string) (string, error) {
	for _, name := range DefaultFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := fs.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no configuration file found in %s (looked for %s)", dir, strings.Join(DefaultFileNames, ", "))
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS reads and parses the configuration file from fs
func LoadFS(fs afero.Fs, path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes configuration data in the format implied by ext
// (".yaml", ".yml" or ".toml"), then expands, defaults and validates it.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config

	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path strings. The hook
// command is left alone for the shell to expand.
func (c *Config) expandEnv() {
	for i, dir := range c.Paths.Directories {
		c.Paths.Directories[i] = os.ExpandEnv(dir)
	}
	for i, file := range c.Paths.Files {
		c.Paths.Files[i] = os.ExpandEnv(file)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Composer.Install == nil {
		c.Composer.Install = make(map[string]string)
	}
	if c.Hooks.Description == "" {
		c.Hooks.Description = c.Hooks.Command
	}
	for i, dir := range c.Paths.Directories {
		c.Paths.Directories[i] = strings.TrimSuffix(filepath.ToSlash(dir), "/")
	}
	for i, file := range c.Paths.Files {
		c.Paths.Files[i] = filepath.ToSlash(file)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	for _, dir := range c.Paths.Directories {
		if err := validateRelPath(dir); err != nil {
			return fmt.Errorf("paths.directories: %w", err)
		}
	}
	for _, file := range c.Paths.Files {
		if err := validateRelPath(file); err != nil {
			return fmt.Errorf("paths.files: %w", err)
		}
	}

	for pkg, constraint := range c.Composer.Install {
		if strings.TrimSpace(pkg) == "" {
			return fmt.Errorf("composer.install: empty package name")
		}
		if strings.TrimSpace(constraint) == "" {
			return fmt.Errorf("composer.install: empty version constraint for %s", pkg)
		}
	}
	for _, pkg := range c.Composer.Remove {
		if strings.TrimSpace(pkg) == "" {
			return fmt.Errorf("composer.remove: empty package name")
		}
		if _, ok := c.Composer.Install[pkg]; ok {
			return fmt.Errorf("composer: %s is listed in both install and remove", pkg)
		}
	}

	for _, p := range c.Hooks.Patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("hooks.patterns: empty pattern")
		}
		if _, err := pattern.Compile(p); err != nil {
			return fmt.Errorf("hooks.patterns: %w", err)
		}
	}
	if len(c.Hooks.Patterns) > 0 && strings.TrimSpace(c.Hooks.Command) == "" {
		return fmt.Errorf("hooks.command is required when hooks.patterns is set")
	}

	return nil
}

// validateRelPath rejects empty, absolute and traversing paths.
func validateRelPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return fmt.Errorf("path must be relative: %s", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path must stay inside the source root: %s", p)
	}
	return nil
}

// Schema returns the JSON schema describing the configuration document
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}

	schema := r.Reflect(&Config{})
	schema.Title = "Developer Settings Configuration"
	schema.Description = "Configuration schema for developer-settings.yaml"
	schema.ID = ""

	return schema
}
