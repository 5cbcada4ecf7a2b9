package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// specFile is the YAML wire shape for a PipelineSpec: domain.PipelineSpec's
// time.Duration fields become plain duration strings ("30s", "2m") since
// yaml.v3 has no built-in time.Duration codec.
type specFile struct {
	Name   string       `yaml:"name"`
	Stages []stageWire `yaml:"stages"`
}

type stageWire struct {
	ID            string         `yaml:"id"`
	ProcessorName string         `yaml:"processor_name"`
	Dependencies  []string       `yaml:"dependencies"`
	Timeout       string         `yaml:"timeout"`
	Retry         retryWire      `yaml:"retry"`
	Resources     resourcesWire  `yaml:"resources"`
	OnFailure     string         `yaml:"on_failure"`
	Options       map[string]any `yaml:"options"`
}

type retryWire struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	Base        string `yaml:"base"`
	MaxDelay    string `yaml:"max_delay"`
}

type resourcesWire struct {
	CPUMillis int  `yaml:"cpu_millis"`
	MemoryMB  int  `yaml:"memory_mb"`
	GPU       bool `yaml:"gpu"`
}

// LoadSpec parses one PipelineSpec YAML document from path.
func LoadSpec(path string) (domain.PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PipelineSpec{}, fmt.Errorf("pipeline: read spec %s: %w", path, err)
	}
	return ParseSpec(data)
}

// ParseSpec decodes one PipelineSpec YAML document from data.
func ParseSpec(data []byte) (domain.PipelineSpec, error) {
	var wire specFile
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return domain.PipelineSpec{}, fmt.Errorf("pipeline: parse spec: %w", err)
	}

	spec := domain.PipelineSpec{Name: wire.Name, Stages: make([]domain.StageSpec, 0, len(wire.Stages))}
	for _, sw := range wire.Stages {
		timeout, err := parseDurationOrZero(sw.Timeout)
		if err != nil {
			return domain.PipelineSpec{}, fmt.Errorf("pipeline: spec %s stage %s: timeout: %w", wire.Name, sw.ID, err)
		}
		base, err := parseDurationOrZero(sw.Retry.Base)
		if err != nil {
			return domain.PipelineSpec{}, fmt.Errorf("pipeline: spec %s stage %s: retry.base: %w", wire.Name, sw.ID, err)
		}
		maxDelay, err := parseDurationOrZero(sw.Retry.MaxDelay)
		if err != nil {
			return domain.PipelineSpec{}, fmt.Errorf("pipeline: spec %s stage %s: retry.max_delay: %w", wire.Name, sw.ID, err)
		}

		spec.Stages = append(spec.Stages, domain.StageSpec{
			ID:            sw.ID,
			ProcessorName: sw.ProcessorName,
			Dependencies:  sw.Dependencies,
			Timeout:       timeout,
			Retry: domain.RetryPolicy{
				MaxAttempts: sw.Retry.MaxAttempts,
				Backoff:     domain.BackoffKind(sw.Retry.Backoff),
				Base:        base,
				MaxDelay:    maxDelay,
			},
			Resources: domain.ResourceHints{
				CPUMillis: sw.Resources.CPUMillis,
				MemoryMB:  sw.Resources.MemoryMB,
				GPU:       sw.Resources.GPU,
			},
			OnFailure: domain.OnFailurePolicy(sw.OnFailure),
			Options:   sw.Options,
		})
	}
	return spec, spec.Validate()
}

func parseDurationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// LoadSpecsDir loads every *.yaml/*.yml file in dir as a PipelineSpec,
// skipping subdirectories. Used at startup to populate the Pipeline
// Manager's registered specs from spec.md §6's config-file layer.
func LoadSpecsDir(dir string) ([]domain.PipelineSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: read spec dir %s: %w", dir, err)
	}

	var specs []domain.PipelineSpec
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		spec, err := LoadSpec(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
