// Package config loads the YAML configuration file of the run command.
//
// The file is decoded strictly (unknown keys are rejected) and then
// validated against the embedded CUE schema #Config before use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stepsplit/internal/calltree"
	"github.com/roach88/stepsplit/internal/pipeline"
)

//go:embed schema.cue
var schemaCUE string

// DefaultDatabase is the store path used when neither the file nor a flag
// names one.
const DefaultDatabase = "stepsplit.db"

// File is the run configuration as written on disk.
// Nil fields were not set and fall back to the pipeline defaults.
type File struct {
	Database             string `yaml:"database" json:"database,omitempty"`
	Increment            *int64 `yaml:"increment" json:"increment,omitempty"`
	Workers              *int   `yaml:"workers" json:"workers,omitempty"`
	RetryAttempts        *int   `yaml:"retry_attempts" json:"retry_attempts,omitempty"`
	RetryInitialInterval string `yaml:"retry_initial_interval" json:"retry_initial_interval,omitempty"`
	RetryMaxInterval     string `yaml:"retry_max_interval" json:"retry_max_interval,omitempty"`
	FailureDir           string `yaml:"failure_dir" json:"failure_dir,omitempty"`
	TopLevelDepth        *int   `yaml:"top_level_depth" json:"top_level_depth,omitempty"`
	FailOnAnomaly        *bool  `yaml:"fail_on_anomaly" json:"fail_on_anomaly,omitempty"`
	Traversal            string `yaml:"traversal" json:"traversal,omitempty"`
	MetricsFile          string `yaml:"metrics_file" json:"metrics_file,omitempty"`
}

// ValidationError reports a config value rejected by the schema.
type ValidationError struct {
	// Field is the dotted path of the offending key, if known.
	Field string

	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid config: %s", e.Message)
}

// IsValidationError returns true if err is a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Load reads and validates a config file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a config document. An empty document yields
// an empty File.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var file File
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Reject unknown fields
		if err := decoder.Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate unifies the file with the #Config schema.
func (f *File) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(f))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// Pipeline converts the file into a pipeline configuration.
func (f *File) Pipeline() (pipeline.Config, error) {
	var cfg pipeline.Config

	if f.Increment != nil {
		cfg.Increment = *f.Increment
	}
	if f.Workers != nil {
		cfg.Workers = *f.Workers
	}
	if f.RetryAttempts != nil {
		cfg.RetryAttempts = uint(*f.RetryAttempts)
	}
	cfg.TopLevelDepth = pipeline.DefaultTopLevelDepth
	if f.TopLevelDepth != nil {
		cfg.TopLevelDepth = *f.TopLevelDepth
	}
	if f.FailOnAnomaly != nil {
		cfg.FailOnAnomaly = *f.FailOnAnomaly
	}
	cfg.FailureDir = f.FailureDir

	var err error
	if cfg.RetryInitialInterval, err = parseDuration("retry_initial_interval", f.RetryInitialInterval); err != nil {
		return pipeline.Config{}, err
	}
	if cfg.RetryMaxInterval, err = parseDuration("retry_max_interval", f.RetryMaxInterval); err != nil {
		return pipeline.Config{}, err
	}
	if cfg.Traversal, err = calltree.ParseTraversal(f.Traversal); err != nil {
		return pipeline.Config{}, &ValidationError{Field: "traversal", Message: err.Error()}
	}
	return cfg, nil
}

// DatabasePath returns the configured store path or DefaultDatabase.
func (f *File) DatabasePath() string {
	if f.Database == "" {
		return DefaultDatabase
	}
	return f.Database
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: err.Error()}
	}
	return d, nil
}

// formatCUEError converts the first CUE error into a ValidationError.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	first := errs[0]
	path := first.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return &ValidationError{Message: first.Error()}
	}
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}
