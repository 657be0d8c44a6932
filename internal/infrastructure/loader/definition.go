package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/infrastructure/checker"
)

// Definition is the on-disk form of a POC module.
type Definition struct {
	Name     string `json:"name" yaml:"name"`
	poc.Info `yaml:",inline"`
	Verify   *PhaseDefinition `json:"verify,omitempty" yaml:"verify"`
	Attack   *PhaseDefinition `json:"attack,omitempty" yaml:"attack"`
}

// PhaseDefinition declares exactly one check backend.
type PhaseDefinition struct {
	HTTP    *checker.HTTPSpec    `json:"http,omitempty" yaml:"http"`
	Command *checker.CommandSpec `json:"command,omitempty" yaml:"command"`
}

// Format is a supported definition encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForExt maps a file extension to its format.
func FormatForExt(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

// ParseDefinition decodes data strictly: unknown keys are rejected.
func ParseDefinition(data []byte, format Format) (*Definition, error) {
	var def Definition
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode yaml: empty document")
			}
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return &def, nil
}

// Build compiles the definition into a module. A definition without a
// verify phase still builds; validation later rejects it.
func (d *Definition) Build(id, source, baseDir string) (*poc.Module, error) {
	tpl := &checker.Template{}
	if d.Verify != nil {
		phase, err := d.Verify.build(baseDir)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		tpl.VerifyPhase = phase
	}
	if d.Attack != nil {
		phase, err := d.Attack.build(baseDir)
		if err != nil {
			return nil, fmt.Errorf("attack: %w", err)
		}
		tpl.AttackPhase = phase
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = id
	}
	return &poc.Module{
		ID:           id,
		Name:         name,
		Source:       source,
		Capabilities: tpl.Capabilities(),
		Info:         d.Info,
		Checker:      tpl,
	}, nil
}

func (p *PhaseDefinition) build(baseDir string) (checker.Phase, error) {
	switch {
	case p.HTTP != nil && p.Command != nil:
		return nil, fmt.Errorf("phase declares both http and command")
	case p.HTTP != nil:
		return checker.NewHTTPPhase(*p.HTTP)
	case p.Command != nil:
		return checker.NewCommandPhase(*p.Command, baseDir)
	}
	return nil, fmt.Errorf("phase declares neither http nor command")
}
