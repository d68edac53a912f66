package plan

import (
	"encoding/json"
	"fmt"

	"github.com/rahul/planloop/internal/llm"
)

// OutcomeUpdate rewrites the outcome note of one existing step.
type OutcomeUpdate struct {
	Name        string `json:"name"`
	OutcomeNote string `json:"outcome_note"`
}

// Delta is a partial plan update. Each part is optional.
type Delta struct {
	UpdatedOutcomes []OutcomeUpdate
	NewStep         *Step
	Terminal        *bool
	Fields          map[string]json.RawMessage
}

type deltaWire struct {
	UpdatedOutcomes []OutcomeUpdate `json:"updated_outcomes"`
	NewStep         *Step           `json:"new_step"`
	Terminal        *bool           `json:"terminal"`
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	var w deltaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range []string{"updated_outcomes", "new_step", "terminal"} {
		delete(raw, k)
	}
	d.UpdatedOutcomes = w.UpdatedOutcomes
	d.NewStep = w.NewStep
	d.Terminal = w.Terminal
	d.Fields = raw
	return nil
}

// Empty reports whether applying d would change nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.UpdatedOutcomes) == 0 && d.NewStep == nil && d.Terminal == nil && len(d.Fields) == 0)
}

// ParsePlan decodes and validates the initial plan. Every step starts pending.
func ParsePlan(raw string) (*Plan, error) {
	schema, err := PlanSchema()
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := llm.DecodeJSON("plan", raw, schema, &p); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		name := p.Steps[i].Name
		if seen[name] {
			return nil, &llm.MalformedPlanError{Stage: "plan", Raw: raw, Err: fmt.Errorf("duplicate step name %q", name)}
		}
		seen[name] = true
		p.Steps[i].OutcomeNote = Pending
		p.Steps[i].Attempts = 0
	}
	if p.Fields == nil {
		p.Fields = map[string]json.RawMessage{}
	}
	return &p, nil
}

// ParseDelta validates raw against the delta schema before decoding it.
// A null or empty document is an empty delta.
func ParseDelta(raw json.RawMessage) (*Delta, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &Delta{}, nil
	}
	schema, err := DeltaSchema()
	if err != nil {
		return nil, err
	}
	var d Delta
	if err := llm.DecodeJSON("plan delta", string(raw), schema, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MergeReport says what a merge touched.
type MergeReport struct {
	Updated  []string
	Ignored  []string
	Appended string
	Replaced string
}

// Merge applies d to p in place and returns what changed:
//  1. updated outcomes rewrite only the outcome note of the named step
//  2. a new step is appended, or replaces the same-named step in place
//  3. other top level fields overwrite the plan's
//  4. everything else is preserved
//
// Steps are never removed.
func Merge(p *Plan, d *Delta) MergeReport {
	var rep MergeReport
	if d == nil {
		return rep
	}

	for _, u := range d.UpdatedOutcomes {
		i := p.index(u.Name)
		if i < 0 {
			rep.Ignored = append(rep.Ignored, u.Name)
			continue
		}
		p.Steps[i].OutcomeNote = u.OutcomeNote
		rep.Updated = append(rep.Updated, u.Name)
	}

	if d.NewStep != nil {
		ns := *d.NewStep
		ns.OutcomeNote = Pending
		ns.Attempts = 0
		if i := p.index(ns.Name); i >= 0 {
			p.Steps[i] = ns
			rep.Replaced = ns.Name
		} else {
			p.Steps = append(p.Steps, ns)
			rep.Appended = ns.Name
		}
	}

	if d.Terminal != nil {
		p.Terminal = *d.Terminal
	}
	if len(d.Fields) > 0 && p.Fields == nil {
		p.Fields = make(map[string]json.RawMessage, len(d.Fields))
	}
	for k, v := range d.Fields {
		p.Fields[k] = v
	}
	return rep
}
