package behavior

import (
	"fmt"
	"strings"
)

// Status is the execution status a task reports to its parent.
type Status int

const (
	StatusInactive Status = iota
	StatusRunning
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusRunning:
		return "RUNNING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends an invocation.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// AbortType controls which started branches a composite's conditionals may interrupt.
type AbortType int

const (
	AbortNone AbortType = iota
	AbortSelf
	AbortLowerPriority
	AbortBoth
)

func (a AbortType) String() string {
	switch a {
	case AbortNone:
		return "none"
	case AbortSelf:
		return "self"
	case AbortLowerPriority:
		return "lower_priority"
	case AbortBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseAbortType accepts the snake case names as well as the PascalCase
// spellings used by exported tree documents.
func ParseAbortType(s string) (AbortType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AbortNone, nil
	case "self", "self_":
		return AbortSelf, nil
	case "lower_priority", "lowerpriority", "lower-priority":
		return AbortLowerPriority, nil
	case "both":
		return AbortBoth, nil
	}
	return AbortNone, fmt.Errorf("invalid abort type %q", s)
}

// Kind is the behavior kind backing a task.
type Kind int

const (
	KindAction Kind = iota
	KindConditional
	KindComposite
	KindDecorator
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindConditional:
		return "conditional"
	case KindComposite:
		return "composite"
	case KindDecorator:
		return "decorator"
	default:
		return "unknown"
	}
}

// IsParent reports whether tasks of this kind own children.
func (k Kind) IsParent() bool {
	return k == KindComposite || k == KindDecorator
}
