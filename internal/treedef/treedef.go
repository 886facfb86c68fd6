// Package treedef reads behavior tree documents and builds task trees from
// them. Documents can be YAML, JSON or HCL; all three decode into the same
// Definition.
package treedef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/agent/behavior/tasks"
)

var (
	ErrEmpty         = errors.New("empty tree document")
	ErrMissingRoot   = errors.New("tree document has no root task")
	ErrDuplicateID   = errors.New("duplicate task id")
	ErrUnknownFormat = errors.New("unknown tree format")
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Definition is a whole tree document.
type Definition struct {
	Name string   `yaml:"name,omitempty" json:"Name,omitempty"`
	Root *NodeDef `yaml:"root" json:"RootTask"`
}

// NodeDef is one task in a document.
type NodeDef struct {
	Type string `yaml:"type" json:"Type"`
	Name string `yaml:"name,omitempty" json:"Name,omitempty"`
	// ID is an optional document-wide unique handle.
	ID       string `yaml:"id,omitempty" json:"ID,omitempty"`
	Abort    string `yaml:"abort,omitempty" json:"AbortType,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty" json:"Disabled,omitempty"`
	// Instant defaults to true.
	Instant    *bool            `yaml:"instant,omitempty" json:"Instant,omitempty"`
	Sync       bool             `yaml:"sync,omitempty" json:"SyncToClient,omitempty"`
	Properties tasks.Properties `yaml:"properties,omitempty" json:"Properties,omitempty"`
	Children   []*NodeDef       `yaml:"children,omitempty" json:"Children,omitempty"`
}

// Count returns the number of tasks in the document.
func (d *Definition) Count() int {
	if d == nil || d.Root == nil {
		return 0
	}
	return d.Root.count()
}

func (n *NodeDef) count() int {
	total := 1
	for _, c := range n.Children {
		if c != nil {
			total += c.count()
		}
	}
	return total
}

// Parse decodes a document in the given format.
func Parse(format Format, data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	var def Definition
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatHCL:
		d, err := parseHCL(data)
		if err != nil {
			return nil, err
		}
		def = *d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if def.Root == nil {
		return nil, ErrMissingRoot
	}
	return &def, nil
}

// Build turns a definition into a task tree using the registry's types.
func Build(def *Definition, registry *tasks.Registry) (*behavior.Task, error) {
	if def == nil || def.Root == nil {
		return nil, ErrMissingRoot
	}
	if registry == nil {
		registry = tasks.DefaultRegistry()
	}
	b := &builder{registry: registry, ids: make(map[string]bool)}
	return b.build(def.Root, "root")
}

type builder struct {
	registry *tasks.Registry
	ids      map[string]bool
}

func (b *builder) build(n *NodeDef, path string) (*behavior.Task, error) {
	if n == nil {
		return nil, fmt.Errorf("%s: empty task", path)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("%s: task type is required", path)
	}
	if n.ID != "" {
		if b.ids[n.ID] {
			return nil, fmt.Errorf("%s: %w: %q", path, ErrDuplicateID, n.ID)
		}
		b.ids[n.ID] = true
	}
	abort, err := behavior.ParseAbortType(n.Abort)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	children := make([]*behavior.Task, 0, len(n.Children))
	for i, c := range n.Children {
		child, err := b.build(c, fmt.Sprintf("%s.%d", path, i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	name := n.Name
	if name == "" {
		name = n.ID
	}
	task, err := b.registry.NewTask(n.Type, name, n.Properties, abort, children)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	task.Disabled = n.Disabled
	if n.Instant != nil {
		task.Instant = *n.Instant
	}
	task.SyncToClient = n.Sync
	return task, nil
}

// Parser reads documents of one format for behavior.Tree.
type Parser struct {
	Format   Format
	Registry *tasks.Registry
}

func (p Parser) Deserialize(config []byte, _ behavior.AddContext) (*behavior.Task, error) {
	def, err := Parse(p.Format, config)
	if err != nil {
		return nil, err
	}
	return Build(def, p.Registry)
}

// Validate parses and builds a document and compiles the result.
func Validate(format Format, data []byte, registry *tasks.Registry) (behavior.Tables, error) {
	tree := behavior.New(data, Parser{Format: format, Registry: registry})
	if err := tree.Compile(); err != nil {
		return behavior.Tables{}, err
	}
	return tree.Tables(), nil
}
