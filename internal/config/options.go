package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OptionsFile is the name of the per-project option snapshot kept next to the
// mirrored packages.
const OptionsFile = "_obs-db-options"

// ProjectOptions is the snapshot of a project's configuration taken when the
// project was mirrored. Projects discovered as devel targets have NoConfig set.
type ProjectOptions struct {
	Parent                string   `yaml:"parent,omitempty"`
	Branches              []string `yaml:"branches,omitempty"`
	ForceProjectParent    bool     `yaml:"force-project-parent"`
	LenientDelta          bool     `yaml:"lenient-delta"`
	IgnoreFallback        bool     `yaml:"ignore-fallback"`
	CheckoutDevelProjects bool     `yaml:"checkout-devel-projects"`
	NoConfig              bool     `yaml:"no-config"`
}

// Options returns the snapshot of p.
func (p *Project) Options() ProjectOptions {
	return ProjectOptions{
		Parent:                p.Parent,
		Branches:              append([]string(nil), p.Branches...),
		ForceProjectParent:    p.ForceProjectParent,
		LenientDelta:          p.LenientDelta,
		IgnoreFallback:        p.IgnoreFallback,
		CheckoutDevelProjects: p.CheckoutDevelProjects,
	}
}

// AsProject turns a snapshot back into a project configuration.
func (o ProjectOptions) AsProject(name string) *Project {
	return &Project{
		Name:                  name,
		Parent:                o.Parent,
		Branches:              append([]string(nil), o.Branches...),
		ForceProjectParent:    o.ForceProjectParent,
		LenientDelta:          o.LenientDelta,
		IgnoreFallback:        o.IgnoreFallback,
		CheckoutDevelProjects: o.CheckoutDevelProjects,
	}
}

// MarshalOptions renders a snapshot.
func MarshalOptions(o ProjectOptions) ([]byte, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode project options: %w", err)
	}
	return data, nil
}

// ReadOptions loads the snapshot at path. A missing file yields a NoConfig
// snapshot and no error.
func ReadOptions(path string) (ProjectOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ProjectOptions{NoConfig: true}, nil
		}
		return ProjectOptions{}, err
	}

	var o ProjectOptions
	if err := yaml.Unmarshal(data, &o); err != nil {
		return ProjectOptions{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return o, nil
}
