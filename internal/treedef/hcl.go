package treedef

import (
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"example.com/unitbrain/internal/agent/behavior/tasks"
)

// hclFile is the top level of an HCL tree document:
//
//	name = "patrol"
//	task "Selector" {
//	  abort = "lower_priority"
//	  task "NeedFollowJoystick" {}
//	  task "Idle" {}
//	}
type hclFile struct {
	Name  *string    `hcl:"name,optional"`
	Tasks []*hclTask `hcl:"task,block"`
}

type hclTask struct {
	Type       string     `hcl:"type,label"`
	Name       *string    `hcl:"name,optional"`
	ID         *string    `hcl:"id,optional"`
	Abort      *string    `hcl:"abort,optional"`
	Disabled   *bool      `hcl:"disabled,optional"`
	Instant    *bool      `hcl:"instant,optional"`
	Sync       *bool      `hcl:"sync,optional"`
	Properties cty.Value  `hcl:"properties,optional"`
	Children   []*hclTask `hcl:"task,block"`
}

func parseHCL(data []byte) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, "tree.hcl")
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	def := &Definition{}
	if parsed.Name != nil {
		def.Name = *parsed.Name
	}
	switch len(parsed.Tasks) {
	case 0:
		return def, nil
	case 1:
	default:
		return nil, fmt.Errorf("tree document has %d root tasks, want 1", len(parsed.Tasks))
	}
	root, err := parsed.Tasks[0].node()
	if err != nil {
		return nil, err
	}
	def.Root = root
	return def, nil
}

func (t *hclTask) node() (*NodeDef, error) {
	n := &NodeDef{Type: t.Type, Instant: t.Instant}
	if t.Name != nil {
		n.Name = *t.Name
	}
	if t.ID != nil {
		n.ID = *t.ID
	}
	if t.Abort != nil {
		n.Abort = *t.Abort
	}
	if t.Disabled != nil {
		n.Disabled = *t.Disabled
	}
	if t.Sync != nil {
		n.Sync = *t.Sync
	}
	props, err := ctyProperties(t.Properties)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", t.Type, err)
	}
	n.Properties = props
	for _, c := range t.Children {
		child, err := c.node()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// ctyProperties flattens an object or map of primitives into Properties.
func ctyProperties(v cty.Value) (tasks.Properties, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, errors.New("properties must be known values")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("properties must be an object, got %s", ty.FriendlyName())
	}
	props := make(tasks.Properties, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		key := k.AsString()
		if val.IsNull() {
			continue
		}
		switch val.Type() {
		case cty.String:
			props[key] = val.AsString()
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			props[key] = f
		case cty.Bool:
			props[key] = val.True()
		default:
			return nil, fmt.Errorf("property %s: unsupported type %s", key, val.Type().FriendlyName())
		}
	}
	return props, nil
}
