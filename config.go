package snapsql

import (
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config is the compiler's top-level configuration, loaded with
// github.com/goccy/go-yaml (strict mode, so an unknown key is an error
// rather than silently ignored) and layered over a .env file per
// SPEC_FULL.md §1.1 / spec.md §6's Options shape.
type Config struct {
	// Target is the dialect spec ("sql.<dialect>" or "sql.any"). A concrete
	// dialect takes precedence over a query header's own `target:` line;
	// "sql.any" or empty defers to the header, then to generic.
	Target string `yaml:"target"`

	// Format pretty-prints generated SQL when true.
	Format bool `yaml:"format"`

	// SignatureComment appends a trailing "-- Generated by ..." line.
	SignatureComment bool `yaml:"signature_comment"`

	// Display selects "plain" or "ansi-color" diagnostic rendering.
	Display string `yaml:"display"`

	// StdLib is a path to a std-library PRQL source. It is loaded and
	// env-expanded but not read by compilation, which always uses the
	// built-in std library.
	StdLib string `yaml:"stdlib,omitempty"`

	// Verbose is carried through to Options; no compilation step reads it
	// and no tracing is emitted.
	Verbose bool `yaml:"verbose"`
}

// ToOptions converts a loaded Config into the Options struct the public
// API consumes, per spec.md §6.
func (c Config) ToOptions() Options {
	return Options{
		Target:           c.Target,
		Format:           c.Format,
		SignatureComment: c.SignatureComment,
		Display:          Display(c.Display),
		Verbose:          c.Verbose,
	}
}

// LoadConfig reads and validates a YAML config file, applying defaults for
// a missing file and an environment-variable overlay in both cases,
// mirroring the teacher's .env-then-YAML-then-validate-then-defaults
// pipeline.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := getDefaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigNotFound, err)
	}

	var config Config

	if err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	expandConfigEnvVars(&config)

	return &config, nil
}

// validDisplays and targetShape bound the YAML-loaded enum-shaped
// fields, per spec.md §6's Options and §4.9's dialect enum.
var validDisplays = map[string]bool{"": true, "plain": true, "ansi-color": true}

// validateConfig rejects an unrecognized Display value or a Target that
// isn't shaped "sql.<dialect>" / "sql.any".
func validateConfig(config *Config) error {
	if !validDisplays[config.Display] {
		return fmt.Errorf("%w: invalid display %q: must be \"plain\" or \"ansi-color\"", ErrConfigValidation, config.Display)
	}

	if config.Target != "" && config.Target != "sql.any" && !targetShape.MatchString(config.Target) {
		return fmt.Errorf("%w: %w: %q", ErrConfigValidation, ErrInvalidTarget, config.Target)
	}

	return nil
}

var targetShape = regexp.MustCompile(`^sql\.[a-z_]+$`)

// getDefaultConfig returns the baseline configuration used when no config
// file is present: generic dialect, unformatted output, plain diagnostics.
func getDefaultConfig() *Config {
	return &Config{Target: "sql.any", Display: "plain"}
}

// applyDefaults fills in any field the loaded YAML left at its zero value
// but which has a non-zero-valued default.
func applyDefaults(config *Config) {
	if config.Target == "" {
		config.Target = "sql.any"
	}

	if config.Display == "" {
		config.Display = "plain"
	}
}

// loadEnvFiles loads a .env file from the current directory, if present,
// mirroring the teacher's pattern of layering environment secrets over
// YAML even though this compiler opens no database connections itself.
func loadEnvFiles() error {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

// expandEnvVars expands ${VAR} and $VAR references against the process
// environment.
func expandEnvVars(s string) string {
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	s = envBare.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})

	return s
}

var (
	envBraced = regexp.MustCompile(`\$\{([^}]+)\}`)
	envBare   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandConfigEnvVars expands environment variables in every string field
// of config that plausibly carries one.
func expandConfigEnvVars(config *Config) {
	config.Target = expandEnvVars(config.Target)
	config.StdLib = expandEnvVars(config.StdLib)
}

// fileExists reports whether path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
