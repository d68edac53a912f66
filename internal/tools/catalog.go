package tools

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor is what the planner is told about one capability.
type Descriptor struct {
	Name         string   `json:"name" yaml:"name"`
	Libraries    []string `json:"libraries,omitempty" yaml:"libraries,omitempty"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	Template     string   `json:"template" yaml:"template"`
}

// Describer lets a tool supply its own descriptor.
type Describer interface {
	Descriptor() Descriptor
}

// Describe builds the descriptor of t, deriving the template from its
// parameter schema when t does not provide one.
func Describe(t Tool) Descriptor {
	if d, ok := t.(Describer); ok {
		return d.Descriptor()
	}
	args := map[string]any{}
	if props, ok := t.Parameters()["properties"].(map[string]any); ok {
		for name := range props {
			args[name] = "<" + name + ">"
		}
	}
	tmpl, _ := json.Marshal(map[string]any{
		"name":       "<step name>",
		"purpose":    "<why>",
		"capability": t.Name(),
		"arguments":  args,
		"input_ref":  "<earlier step name or empty>",
	})
	return Descriptor{
		Name:         t.Name(),
		Instructions: t.Description(),
		Template:     string(tmpl),
	}
}

// DefaultCatalog describes every registered tool.
func (r *Registry) DefaultCatalog() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, Describe(r.Tools[name]))
	}
	return out
}

// Catalog is the default catalog followed by the caller's augmentation list.
// The result is a fresh slice; neither input is modified.
func (r *Registry) Catalog(extra ...Descriptor) []Descriptor {
	base := r.DefaultCatalog()
	out := make([]Descriptor, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

type catalogFile struct {
	Capabilities []Descriptor `yaml:"capabilities"`
}

// LoadCatalog reads an augmentation list from a YAML file.
func LoadCatalog(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, d := range f.Capabilities {
		if d.Name == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no name", path, i)
		}
	}
	return f.Capabilities, nil
}
