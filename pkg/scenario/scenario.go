// Package scenario replays scripted command sequences against a connected
// host and reports per-step outcomes.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Step is one command in a scenario.
type Step struct {
	Name       string         `yaml:"name" json:"name"`
	Type       string         `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	// ExpectSuccess defaults to true.
	ExpectSuccess *bool `yaml:"expect_success,omitempty" json:"expect_success,omitempty"`
	// Wait pauses after the step completes.
	Wait    time.Duration `yaml:"wait,omitempty" json:"wait,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (s Step) expectSuccess() bool {
	return s.ExpectSuccess == nil || *s.ExpectSuccess
}

func (s Step) label(i int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d (%s)", i+1, s.Type)
}

// Scenario is a named list of steps.
type Scenario struct {
	Name              string `yaml:"name" json:"name"`
	Description       string `yaml:"description,omitempty" json:"description,omitempty"`
	Version           string `yaml:"version,omitempty" json:"version,omitempty"`
	ContinueOnFailure bool   `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Steps             []Step `yaml:"steps" json:"steps"`
}

// Validate checks the scenario's shape. When allowed is non-empty every step
// type must appear in it.
func (s Scenario) Validate(allowed []string) error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, fmt.Errorf("scenario %q has no steps", s.Name))
	}
	for i, step := range s.Steps {
		switch {
		case step.Type == "":
			errs = append(errs, fmt.Errorf("%s: type is required", step.label(i)))
		case len(allowed) > 0 && !slices.Contains(allowed, step.Type):
			errs = append(errs, fmt.Errorf("%s: command type %q is not allowed", step.label(i), step.Type))
		}
		if step.Wait < 0 || step.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration", step.label(i)))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes one or more YAML documents, each holding a scenario.
func Parse(data []byte) ([]Scenario, error) {
	var out []Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var sc Scenario
		err := dec.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse scenario: %w", err)
		}
		if sc.Name == "" && len(sc.Steps) == 0 {
			continue
		}
		out = append(out, sc)
	}
	if len(out) == 0 {
		return nil, errors.New("no scenarios found")
	}
	return out, nil
}

// Load reads and parses the scenarios in path.
func Load(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Find returns the scenario called name, or the first one when name is empty.
func Find(scenarios []Scenario, name string) (Scenario, error) {
	if name == "" && len(scenarios) > 0 {
		return scenarios[0], nil
	}
	for _, sc := range scenarios {
		if sc.Name == name {
			return sc, nil
		}
	}
	return Scenario{}, fmt.Errorf("scenario %q not found", name)
}
