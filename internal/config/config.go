// Package config loads safeoverride settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"

	"github.com/phobologic/safeoverride/internal/marker"
)

// DefaultFileName is looked up in the analyzed root when no path is given.
const DefaultFileName = ".safeoverride.toml"

// DefaultMaxFileSize skips files larger than 1 MB.
const DefaultMaxFileSize = 1_000_000

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "sarif", "toon"}

// Config is the complete safeoverride configuration.
type Config struct {
	Analysis Analysis `toml:"analysis"`
	Markers  Markers  `toml:"markers"`
	Catalog  Catalog  `toml:"catalog"`
	Output   Output   `toml:"output"`
	Rules    Rules    `toml:"rules"`

	// path is the file the config was loaded from, "" for defaults.
	path string
}

// Analysis controls which files are analyzed and how they are named.
type Analysis struct {
	SourceRoots []string `toml:"source_roots"`
	Exclude     []string `toml:"exclude"`
	MaxFileSize int      `toml:"max_file_size"`
}

// Markers lists the decorators accepted as safe-override markers.
type Markers struct {
	SafeOverride []string `toml:"safe_override"`
	BareNames    []string `toml:"bare_names"`
}

// Catalog selects the interface catalogs merged for external lookups.
type Catalog struct {
	Paths          []string `toml:"paths"`
	IncludeDefault *bool    `toml:"include_default"`
}

// DefaultIncluded reports whether the embedded catalog should be loaded.
func (c Catalog) DefaultIncluded() bool {
	return c.IncludeDefault == nil || *c.IncludeDefault
}

// Output controls report rendering and the exit status.
type Output struct {
	Format   string `toml:"format"`
	ExitZero bool   `toml:"exit_zero"`
}

// Rules disables rules by id or symbol.
type Rules struct {
	Disable []string `toml:"disable"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Analysis: Analysis{
			SourceRoots: []string{".", "src"},
			MaxFileSize: DefaultMaxFileSize,
		},
		Markers: Markers{
			SafeOverride: slices.Clone(marker.DefaultProviders),
			BareNames:    slices.Clone(marker.DefaultBareNames),
		},
		Output: Output{Format: "text"},
	}
}

// Load reads path over the defaults and validates the result. Relative
// catalog paths are resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.path = path

	dir := filepath.Dir(path)
	for i, p := range cfg.Catalog.Paths {
		if !filepath.IsAbs(p) {
			cfg.Catalog.Paths[i] = filepath.Join(dir, p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover loads path when given. Otherwise it loads DefaultFileName from
// root if present and falls back to Default.
func Discover(path, root string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := Load(filepath.Join(root, DefaultFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate checks field values.
func (c *Config) Validate() error {
	if !slices.Contains(Formats, c.Output.Format) {
		return fmt.Errorf("output.format %q: must be one of %s", c.Output.Format, strings.Join(Formats, ", "))
	}
	if c.Analysis.MaxFileSize < 0 {
		return fmt.Errorf("analysis.max_file_size must be >= 0, got %d", c.Analysis.MaxFileSize)
	}
	if _, err := c.ExcludeGlobs(); err != nil {
		return err
	}
	for _, p := range c.Markers.SafeOverride {
		if p == "" || strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".") {
			return fmt.Errorf("markers.safe_override: invalid qualified name %q", p)
		}
	}
	for _, r := range c.Rules.Disable {
		if strings.TrimSpace(r) == "" {
			return errors.New("rules.disable: empty rule name")
		}
	}
	return nil
}

// ExcludeGlobs compiles the exclude patterns.
func (c *Config) ExcludeGlobs() ([]glob.Glob, error) {
	return CompileGlobs(c.Analysis.Exclude)
}

// CompileGlobs compiles path patterns with '/' as separator. A trailing
// slash is ignored so "build/" matches the directory itself.
func CompileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.TrimSuffix(p, "/"), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
