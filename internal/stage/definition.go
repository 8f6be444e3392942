// Package stage provides the ordered processing-stage definition of the bridge and the
// topology resolver that maps (stage, record kind, direction) to a legacy account.
package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/correlator-io/sdbridge/internal/config"
	"github.com/correlator-io/sdbridge/internal/legacy"
)

// DefaultDefinitionPath is the default location for the bridge definition file.
const DefaultDefinitionPath = ".sdbridge.yaml"

// DefinitionPathEnvVar is the environment variable name for a custom definition path.
const DefinitionPathEnvVar = "SDBRIDGE_DEFINITION_PATH"

var (
	// ErrDefinitionNotFound is returned when the definition file does not exist.
	ErrDefinitionNotFound = errors.New("bridge definition file not found")

	// ErrInvalidDefinition is returned when the definition fails validation.
	ErrInvalidDefinition = errors.New("invalid bridge definition")
)

//nolint:tagliatelle // snake_case is intentional for YAML config files
type (
	// Definition is the bridge configuration: the globally ordered stages and the legacy
	// account backing each of them.
	Definition struct {
		MonitoringOrganization string            `yaml:"monitoring_organization" validate:"required"`
		MeasuredWaveformLead   time.Duration     `yaml:"measured_waveform_lead" validate:"gte=0"`
		MeasuredWaveformLag    time.Duration     `yaml:"measured_waveform_lag" validate:"gte=0"`
		Stages                 []StageDefinition `yaml:"stages" validate:"required,min=1,unique=Name,unique=Account,dive"`
	}

	// StageDefinition configures one stage.
	//
	// Account is the legacy account backing every record kind of the stage. Accounts
	// overrides it per kind (keyed by legacy table name), and Disabled lists kinds whose
	// connector does not exist for the stage.
	StageDefinition struct {
		Name     string            `yaml:"name" validate:"required"`
		Account  string            `yaml:"account" validate:"required"`
		Accounts map[string]string `yaml:"accounts" validate:"omitempty,dive,keys,required,endkeys,required"`
		Disabled []string          `yaml:"disabled"`
	}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDefinition reads and validates a bridge definition from a YAML file.
//
// Unlike optional settings, the definition is required: a missing or invalid file is
// returned as an error because no stage can be served without it.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, path)
		}

		return nil, fmt.Errorf("failed to read bridge definition %s: %w", path, err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}

	slog.Debug("Loaded bridge definition",
		slog.String("path", path),
		slog.Int("stages", len(def.Stages)))

	return def, nil
}

// LoadDefinitionFromEnv loads the definition from the path in SDBRIDGE_DEFINITION_PATH,
// falling back to ".sdbridge.yaml" in the current directory.
func LoadDefinitionFromEnv() (*Definition, error) {
	return LoadDefinition(config.GetEnvStr(DefinitionPathEnvVar, DefaultDefinitionPath))
}

// ParseDefinition decodes and validates a YAML definition document.
func ParseDefinition(data []byte) (*Definition, error) {
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

// Validate checks struct constraints and that every kind name refers to a legacy table.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	for _, sd := range d.Stages {
		for name := range sd.Accounts {
			if _, ok := legacy.ParseKind(name); !ok {
				return fmt.Errorf("%w: stage %s: unknown record kind %q", ErrInvalidDefinition, sd.Name, name)
			}
		}

		for _, name := range sd.Disabled {
			if _, ok := legacy.ParseKind(name); !ok {
				return fmt.Errorf("%w: stage %s: unknown record kind %q", ErrInvalidDefinition, sd.Name, name)
			}
		}
	}

	return nil
}
