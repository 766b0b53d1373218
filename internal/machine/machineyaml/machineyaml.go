// Package machineyaml loads a machine's service-contract table from a
// YAML document instead of a hand-written Go map literal, for
// deployments that prefer to declare their service wiring in config
// files. It mirrors the pipeline-spec loading style used elsewhere in
// the corpus: a typed struct, yaml.v3, and a validation pass before the
// decoded spec is trusted.
package machineyaml

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-io/machina/internal/contract"
)

type yamlSpec struct {
	Services []yamlServiceContract `yaml:"services"`
}

type yamlServiceContract struct {
	URI               string                    `yaml:"uri"`
	Version           string                    `yaml:"version"`
	Type              string                    `yaml:"type"` // "service" or "orchestrator"
	CompleteEventType string                    `yaml:"completeEventType"`
	Emits             map[string]yamlEmitSchema `yaml:"emits"`
}

type yamlEmitSchema struct {
	Required []string `yaml:"required"`
}

// LoadServiceContracts parses data into the service-contract map a
// machine.New call takes, keyed by contract URI.
func LoadServiceContracts(data []byte) (map[string]*contract.Contract, error) {
	var spec yamlSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("machineyaml: unmarshal: %w", err)
	}
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	out := make(map[string]*contract.Contract, len(spec.Services))
	for _, svc := range spec.Services {
		c := &contract.Contract{
			URI:               svc.URI,
			Version:           svc.Version,
			Type:              contractType(svc.Type),
			CompleteEventType: svc.CompleteEventType,
		}
		if len(svc.Emits) > 0 {
			c.Emits = make(map[string]contract.Schema, len(svc.Emits))
			for eventType, schema := range svc.Emits {
				c.Emits[eventType] = contract.MapSchema{Required: schema.Required}
			}
		}
		out[svc.URI] = c
	}
	return out, nil
}

// LoadServiceContractsFromFile reads path and delegates to
// LoadServiceContracts; a missing path is a plain I/O error, not a
// violation — callers decide what a missing config file means for them.
func LoadServiceContractsFromFile(path string) (map[string]*contract.Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machineyaml: read %s: %w", path, err)
	}
	return LoadServiceContracts(data)
}

// LoadServiceContractsFromEnv reads the file path named by envVar, the
// same override pattern the corpus's pipeline-spec loader uses for its
// own YAML config.
func LoadServiceContractsFromEnv(envVar string) (map[string]*contract.Contract, error) {
	path := strings.TrimSpace(os.Getenv(envVar))
	if path == "" {
		return nil, fmt.Errorf("machineyaml: %s is not set", envVar)
	}
	return LoadServiceContractsFromFile(path)
}

func validateSpec(spec *yamlSpec) error {
	seen := map[string]bool{}
	for i, svc := range spec.Services {
		if strings.TrimSpace(svc.URI) == "" {
			return fmt.Errorf("machineyaml: services[%d]: uri is required", i)
		}
		if strings.TrimSpace(svc.Version) == "" {
			return fmt.Errorf("machineyaml: services[%d] (%s): version is required", i, svc.URI)
		}
		if svc.Type != "" && svc.Type != "service" && svc.Type != "orchestrator" {
			return fmt.Errorf("machineyaml: services[%d] (%s): type must be \"service\" or \"orchestrator\", got %q", i, svc.URI, svc.Type)
		}
		if seen[svc.URI] {
			return fmt.Errorf("machineyaml: duplicate service uri %q", svc.URI)
		}
		seen[svc.URI] = true
	}
	return nil
}

func contractType(t string) contract.Type {
	if t == "orchestrator" {
		return contract.TypeOrchestrator
	}
	return contract.TypeService
}
