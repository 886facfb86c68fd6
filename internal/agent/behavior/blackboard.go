package behavior

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Well known blackboard keys written by the agent host.
const (
	KeyJoystickActive = "joystick.active"
	KeyJoystickX      = "joystick.x"
	KeyJoystickY      = "joystick.y"
	KeyAnimation      = "animation"
)

// Blackboard is the tree's shared key/value state. Writers outside the tick
// (e.g. command handlers) may run concurrently with Update.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

func NewBlackboard() *Blackboard {
	return &Blackboard{
		data: make(map[string]interface{}),
	}
}

func (b *Blackboard) Set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *Blackboard) Get(key string) interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[key]
}

func (b *Blackboard) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[key]
	return ok
}

func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// Keys returns the keys in sorted order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the data.
func (b *Blackboard) Snapshot() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]interface{}, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

func (b *Blackboard) GetString(key string) string {
	val := b.Get(key)
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// GetBool accepts bools and strconv.ParseBool spellings.
func (b *Blackboard) GetBool(key string) bool {
	switch v := b.Get(key).(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(v)
		return err == nil && parsed
	default:
		return false
	}
}

func (b *Blackboard) GetFloat(key string) float64 {
	switch v := b.Get(key).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
