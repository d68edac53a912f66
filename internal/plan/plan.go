// Package plan holds the mutable step list of one run and the name-addressed
// merge that applies model-proposed deltas to it.
package plan

import (
	"encoding/json"
	"fmt"
)

// Pending is the outcome note of a step that has not been attempted.
const Pending = "pending"

// ExtractOnly in Commands marks a step that reads the current observation
// instead of driving the browser.
const ExtractOnly = "extract"

// Kind is what executing a step means.
type Kind string

const (
	KindCapability Kind = "capability"
	KindBrowser    Kind = "browser"
	KindExtract    Kind = "extract"
)

// Step is one named unit of work and its eventual outcome.
type Step struct {
	Name          string         `json:"name"`
	Purpose       string         `json:"purpose,omitempty"`
	Capability    string         `json:"capability,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Commands      string         `json:"commands,omitempty"`
	InputRef      string         `json:"input_ref,omitempty"`
	OutcomeNote   string         `json:"outcome_note"`
	ExtractedData any            `json:"extracted_data,omitempty"`
	PageContext   string         `json:"page_context,omitempty"`
	Thought       string         `json:"thought,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
}

// Kind classifies the step by its action fields.
func (s Step) Kind() Kind {
	switch {
	case s.Capability != "":
		return KindCapability
	case s.Commands == "" || s.Commands == ExtractOnly:
		return KindExtract
	default:
		return KindBrowser
	}
}

// Plan is the ordered step list plus free-form top level fields.
type Plan struct {
	Steps    []Step
	Terminal bool
	Fields   map[string]json.RawMessage
}

type planWire struct {
	Steps    []Step `json:"steps"`
	Terminal bool   `json:"terminal"`
}

func (p Plan) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+2)
	for k, v := range p.Fields {
		out[k] = v
	}
	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	out["steps"] = steps
	out["terminal"] = p.Terminal
	return json.Marshal(out)
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "steps")
	delete(raw, "terminal")
	p.Steps = w.Steps
	p.Terminal = w.Terminal
	p.Fields = raw
	return nil
}

func (p *Plan) index(name string) int {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the step called name.
func (p *Plan) Lookup(name string) (*Step, bool) {
	i := p.index(name)
	if i < 0 {
		return nil, false
	}
	return &p.Steps[i], true
}

// Pending returns the indices of steps not yet attempted, in plan order.
func (p *Plan) Pending() []int {
	var out []int
	for i, s := range p.Steps {
		if s.OutcomeNote == Pending {
			out = append(out, i)
		}
	}
	return out
}

// RecordOutcome overwrites the outcome note of an attempted step.
func (p *Plan) RecordOutcome(name, note string) error {
	i := p.index(name)
	if i < 0 {
		return fmt.Errorf("record outcome: no step %q", name)
	}
	if note == "" || note == Pending {
		note = "attempted; no outcome reported"
	}
	p.Steps[i].OutcomeNote = note
	p.Steps[i].Attempts++
	return nil
}

// StuckSteps lists steps left at the pending note although they were
// attempted or a later step was.
func (p *Plan) StuckSteps() []string {
	var stuck []string
	laterAttempted := false
	for i := len(p.Steps) - 1; i >= 0; i-- {
		s := p.Steps[i]
		if s.OutcomeNote == Pending && (s.Attempts > 0 || laterAttempted) {
			stuck = append([]string{s.Name}, stuck...)
		}
		if s.Attempts > 0 {
			laterAttempted = true
		}
	}
	return stuck
}

// Extracted is one step's extracted payload.
type Extracted struct {
	Step string `json:"step"`
	Data any    `json:"data"`
}

// Extracted collects extracted_data in plan order.
func (p *Plan) Extracted() []Extracted {
	var out []Extracted
	for _, s := range p.Steps {
		if s.ExtractedData != nil {
			out = append(out, Extracted{Step: s.Name, Data: s.ExtractedData})
		}
	}
	return out
}

// Clone deep-copies p through its JSON form.
func (p *Plan) Clone() *Plan {
	data, err := json.Marshal(p)
	if err != nil {
		return &Plan{Steps: append([]Step(nil), p.Steps...), Terminal: p.Terminal}
	}
	var c Plan
	if err := json.Unmarshal(data, &c); err != nil {
		return &Plan{Steps: append([]Step(nil), p.Steps...), Terminal: p.Terminal}
	}
	return &c
}

// Snapshot is the indented JSON shown to the model.
func (p *Plan) Snapshot() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
