package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"example.com/unitbrain/internal/agent/behavior"
)

var (
	ErrUnknownType = errors.New("unknown task type")
	ErrChildren    = errors.New("invalid children")
)

// Properties are the free-form settings a definition attaches to a task.
type Properties map[string]any

func (p Properties) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (p Properties) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("property %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("property %s: not a number: %v", key, v)
}

// Duration reads a duration given either as a Go duration string ("1.5s") or
// as a number of milliseconds.
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	if s, ok := p[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	ms, err := p.Float(key, float64(def.Milliseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// Factory builds the behavior payload for one task.
type Factory struct {
	Kind behavior.Kind
	New  func(p Properties) (any, error)
}

// Registry maps definition type names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a type.
func (r *Registry) Register(name string, kind behavior.Kind, fn func(p Properties) (any, error)) {
	r.factories[name] = Factory{Kind: kind, New: fn}
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewTask builds a task of the registered type around the given children.
func (r *Registry) NewTask(typeName, name string, p Properties, abort behavior.AbortType, children []*behavior.Task) (*behavior.Task, error) {
	f, ok := r.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if name == "" {
		name = typeName
	}
	if abort != behavior.AbortNone && f.Kind != behavior.KindComposite {
		return nil, fmt.Errorf("task %s: abort type %s on a %s", name, abort, f.Kind)
	}
	v, err := f.New(p)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", name, err)
	}

	var task *behavior.Task
	switch f.Kind {
	case behavior.KindAction, behavior.KindConditional:
		if len(children) > 0 {
			return nil, fmt.Errorf("%w: %s %s cannot have children", ErrChildren, f.Kind, name)
		}
		if f.Kind == behavior.KindAction {
			a, ok := v.(behavior.Action)
			if !ok {
				return nil, fmt.Errorf("task %s: %T is not an action", name, v)
			}
			task = behavior.NewAction(name, a)
		} else {
			c, ok := v.(behavior.Conditional)
			if !ok {
				return nil, fmt.Errorf("task %s: %T is not a conditional", name, v)
			}
			task = behavior.NewConditional(name, c)
		}
	case behavior.KindComposite:
		c, ok := v.(behavior.Composite)
		if !ok {
			return nil, fmt.Errorf("task %s: %T is not a composite", name, v)
		}
		task = behavior.NewComposite(name, c, abort, children...)
	case behavior.KindDecorator:
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: decorator %s needs exactly one child, got %d", ErrChildren, name, len(children))
		}
		d, ok := v.(behavior.Decorator)
		if !ok {
			return nil, fmt.Errorf("task %s: %T is not a decorator", name, v)
		}
		task = behavior.NewDecorator(name, d, children[0])
	default:
		return nil, fmt.Errorf("task %s: unsupported kind %s", name, f.Kind)
	}
	task.Type = typeName
	return task, nil
}

// DefaultRegistry knows every built-in task type.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("Sequence", behavior.KindComposite, func(Properties) (any, error) { return &Sequence{}, nil })
	r.Register("Selector", behavior.KindComposite, func(Properties) (any, error) { return &Selector{}, nil })
	r.Register("Parallel", behavior.KindComposite, func(Properties) (any, error) { return &Parallel{}, nil })

	r.Register("Inverter", behavior.KindDecorator, func(Properties) (any, error) { return &Inverter{}, nil })
	r.Register("ReturnSuccess", behavior.KindDecorator, func(Properties) (any, error) { return &ReturnSuccess{}, nil })
	r.Register("UntilFailure", behavior.KindDecorator, func(Properties) (any, error) { return &UntilFailure{}, nil })
	r.Register("UntilForever", behavior.KindDecorator, func(Properties) (any, error) { return UntilForever{}, nil })

	r.Register("Idle", behavior.KindAction, func(Properties) (any, error) { return Idle{}, nil })
	r.Register("Wait", behavior.KindAction, func(p Properties) (any, error) {
		d, err := p.Duration("duration", 0)
		if err != nil {
			return nil, err
		}
		return &Wait{Duration: d}, nil
	})
	r.Register("PlayAnimation", behavior.KindAction, func(p Properties) (any, error) {
		name := p.String("animation", "")
		if name == "" {
			return nil, errors.New("animation is required")
		}
		d, err := p.Duration("duration", time.Second)
		if err != nil {
			return nil, err
		}
		return &PlayAnimation{Animation: name, Duration: d}, nil
	})
	r.Register("FollowJoystick", behavior.KindAction, func(p Properties) (any, error) {
		speed, err := p.Float("speed", 1)
		if err != nil {
			return nil, err
		}
		return &FollowJoystick{Speed: speed}, nil
	})
	r.Register("SetBlackboard", behavior.KindAction, func(p Properties) (any, error) {
		key := p.String("key", "")
		if key == "" {
			return nil, errors.New("key is required")
		}
		return &SetBlackboard{Key: key, Value: p.String("value", "")}, nil
	})
	r.Register("Log", behavior.KindAction, func(p Properties) (any, error) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(p.String("level", "INFO"))); err != nil {
			return nil, fmt.Errorf("property level: %w", err)
		}
		return &Log{Message: p.String("message", ""), Level: level}, nil
	})

	r.Register("NeedFollowJoystick", behavior.KindConditional, func(Properties) (any, error) { return NeedFollowJoystick{}, nil })
	r.Register("BlackboardBool", behavior.KindConditional, func(p Properties) (any, error) {
		key := p.String("key", "")
		if key == "" {
			return nil, errors.New("key is required")
		}
		return &BlackboardBool{Key: key}, nil
	})
	r.Register("BlackboardEquals", behavior.KindConditional, func(p Properties) (any, error) {
		key := p.String("key", "")
		if key == "" {
			return nil, errors.New("key is required")
		}
		return &BlackboardEquals{Key: key, Value: p.String("value", "")}, nil
	})
	return r
}
