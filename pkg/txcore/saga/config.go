package saga

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk shape of the saga definition registry (spec
// section 6.5): definitions are loaded once at orchestrator startup and
// referenced by saga_type for the rest of the process's life. Picking up a
// changed definition requires a restart, mirroring config.Config's
// load-once-at-startup model for every other component's tuning.
type definitionFile struct {
	Sagas []yamlDefinition `yaml:"sagas"`
}

type yamlDefinition struct {
	SagaType    string          `yaml:"saga_type"`
	TimeoutSec  float64         `yaml:"timeout_seconds"`
	RetryPolicy yamlRetryPolicy `yaml:"retry_policy"`
	Steps       []yamlStep      `yaml:"steps"`
}

type yamlRetryPolicy struct {
	MaxRetries    int     `yaml:"max_retries"`
	BaseBackoffMs float64 `yaml:"base_backoff_ms"`
	Exponential   bool    `yaml:"exponential"`
}

type yamlStep struct {
	Name                string   `yaml:"name"`
	Service             string   `yaml:"service"`
	Command             string   `yaml:"command"`
	CompensationCommand string   `yaml:"compensation_command"`
	TimeoutSec          float64  `yaml:"timeout_seconds"`
	Retryable           bool     `yaml:"retryable"`
	DependsOn           []string `yaml:"depends_on"`
}

// LoadDefinitions parses a saga definition registry file (YAML) into
// validated Definitions ready for Orchestrator.RegisterDefinition.
func LoadDefinitions(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read saga definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses raw YAML bytes into validated Definitions,
// separated from LoadDefinitions so callers embedding saga definitions
// (tests, single-binary deployments) can skip the filesystem.
func ParseDefinitions(data []byte) ([]*Definition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse saga definitions: %w", err)
	}

	defs := make([]*Definition, 0, len(file.Sagas))
	for _, yd := range file.Sagas {
		def := &Definition{
			SagaType: yd.SagaType,
			Timeout:  time.Duration(yd.TimeoutSec * float64(time.Second)),
			RetryPolicy: RetryPolicy{
				MaxRetries:  yd.RetryPolicy.MaxRetries,
				BaseBackoff: time.Duration(yd.RetryPolicy.BaseBackoffMs * float64(time.Millisecond)),
				Exponential: yd.RetryPolicy.Exponential,
			},
		}
		if def.RetryPolicy.MaxRetries == 0 {
			def.RetryPolicy = DefaultRetryPolicy
		}
		for _, ys := range yd.Steps {
			def.Steps = append(def.Steps, Step{
				Name:                ys.Name,
				Service:             ys.Service,
				Command:             ys.Command,
				CompensationCommand: ys.CompensationCommand,
				Timeout:             time.Duration(ys.TimeoutSec * float64(time.Second)),
				Retryable:           ys.Retryable,
				DependsOn:           ys.DependsOn,
			})
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("saga definition %q: %w", yd.SagaType, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
