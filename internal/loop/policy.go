package loop

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultModelSpec is used when a policy omits a model entirely.
const DefaultModelSpec = "openai/gpt-4o-mini"

// NormalizePolicy fills defaults and compiles the done-tool declaration into
// its loop-visible shape. Rule and stop-condition order is preserved as
// declared; normalization never sorts.
func NormalizePolicy(raw *Policy) (*Policy, error) {
	p := &Policy{}
	if raw != nil {
		*p = *raw
	}

	if p.PrepareStep.ModelSpec == "" {
		p.PrepareStep.ModelSpec = DefaultModelSpec
	}
	if p.PrepareStep.ToolChoice == "" {
		p.PrepareStep.ToolChoice = ToolChoiceAuto
	}

	for i := range p.PrepareStep.Rules {
		r := &p.PrepareStep.Rules[i]
		if r.FromStep < 0 {
			return nil, fmt.Errorf("rule %d: from_step must be >= 0", i)
		}
	}

	for i, c := range p.StopWhen {
		switch c.Kind {
		case StopHasToolCall:
			if c.ToolName == "" {
				return nil, fmt.Errorf("stop condition %d: hasToolCall requires tool_name", i)
			}
		case StopCELExpression:
			if c.Expression == "" {
				return nil, fmt.Errorf("stop condition %d: celExpression requires expression", i)
			}
		default:
			return nil, fmt.Errorf("stop condition %d: unknown kind %q", i, c.Kind)
		}
	}

	if p.DoneTool != nil {
		if p.DoneTool.Name == "" {
			return nil, fmt.Errorf("done tool requires a name")
		}
		if p.DoneTool.InputSchema == nil {
			p.DoneTool.InputSchema = map[string]interface{}{"type": "object"}
		}
		// The done tool terminates the loop explicitly; surface that as a
		// stop condition unless the caller already declared one for it.
		found := false
		for _, c := range p.StopWhen {
			if c.Kind == StopHasToolCall && c.ToolName == p.DoneTool.Name {
				found = true
				break
			}
		}
		if !found {
			p.StopWhen = append(p.StopWhen, StopCondition{
				Kind:     StopHasToolCall,
				ToolName: p.DoneTool.Name,
			})
		}
		// Declaration-only: the model may call it, nothing executes it.
		if !contains(p.PrepareStep.DeclarationOnlyTools, p.DoneTool.Name) {
			p.PrepareStep.DeclarationOnlyTools = append(p.PrepareStep.DeclarationOnlyTools, p.DoneTool.Name)
		}
	}

	return p, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LoadPolicyFile reads a declarative policy document (YAML or JSON) and
// normalizes it.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var raw Policy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// YAML is a JSON superset, but give JSON a direct shot for clearer
		// errors on .json files.
		if jsonErr := json.Unmarshal(data, &raw); jsonErr != nil {
			return nil, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	}
	return NormalizePolicy(&raw)
}
