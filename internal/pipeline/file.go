package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"stagehand/internal/command"
	"stagehand/internal/stage"
)

// Pipeline is a parsed pipeline file.
type Pipeline struct {
	Name   string
	Vars   stage.Bindings
	Stages []*stage.Definition
	// Commands lists every command template, branches included.
	Commands []string
}

type fileSpec struct {
	Name   string         `toml:"name"`
	Vars   map[string]any `toml:"vars"`
	Stages []stageSpec    `toml:"stage"`
}

type stageSpec struct {
	Name     string       `toml:"name"`
	Command  string       `toml:"command"`
	Output   string       `toml:"output"`
	Joiner   bool         `toml:"joiner"`
	Branches []branchSpec `toml:"branch"`
}

type branchSpec struct {
	Name   string      `toml:"name"`
	Stages []stageSpec `toml:"stage"`
}

// LoadFile reads and parses the pipeline file at path.
func LoadFile(path string, opts command.Options) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	p, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", path, err)
	}
	return p, nil
}

// Parse builds a Pipeline from TOML. Command stages get command.Body with
// opts; joiner stages forward their inputs.
func Parse(data []byte, opts command.Options) (*Pipeline, error) {
	var spec fileSpec
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(spec.Stages) == 0 {
		return nil, errors.New("pipeline has no stages")
	}

	p := &Pipeline{Name: spec.Name, Vars: stage.Bindings(spec.Vars)}
	stages, err := p.build(spec.Stages, opts, 0)
	if err != nil {
		return nil, err
	}
	p.Stages = stages
	return p, nil
}

func (p *Pipeline) build(specs []stageSpec, opts command.Options, depth int) ([]*stage.Definition, error) {
	defs := make([]*stage.Definition, 0, len(specs))
	for i, s := range specs {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		def := &stage.Definition{Name: strings.TrimSpace(s.Name), Joiner: s.Joiner}
		switch {
		case s.Joiner && s.Command != "":
			return nil, fmt.Errorf("stage %s: joiners cannot run a command", label)
		case s.Joiner:
			def.Body = Join
		case strings.TrimSpace(s.Command) == "":
			return nil, fmt.Errorf("stage %s: command is required", label)
		default:
			def.Body = command.Body(command.Spec{Command: s.Command, Output: s.Output}, opts)
			p.Commands = append(p.Commands, s.Command)
		}

		if len(s.Branches) > 0 && depth > 0 {
			return nil, fmt.Errorf("stage %s: branches cannot be nested", label)
		}
		seen := map[string]struct{}{}
		for _, b := range s.Branches {
			name := strings.TrimSpace(b.Name)
			if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
				return nil, fmt.Errorf("stage %s: branch name %q is invalid", label, b.Name)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("stage %s: duplicate branch %q", label, name)
			}
			seen[name] = struct{}{}
			children, err := p.build(b.Stages, opts, depth+1)
			if err != nil {
				return nil, fmt.Errorf("branch %s: %w", name, err)
			}
			def.Branches = append(def.Branches, stage.Branch{Name: name, Stages: children})
		}
		defs = append(defs, def)
	}
	return defs, nil
}
