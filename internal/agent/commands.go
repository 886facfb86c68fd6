package agent

import "encoding/json"

// Command types understood by the agent.
const (
	CmdSetBlackboard = "set_blackboard"
	CmdJoystick      = "joystick"
	CmdEnable        = "enable"
	CmdDisable       = "disable"
	CmdLoadTree      = "load_tree"
	CmdReloadTree    = "reload_tree"
	CmdRebuildSync   = "rebuild_sync"
	CmdBatch         = "batch"
)

// Command represents a controller-issued instruction handled by an agent.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SetBlackboardData writes one blackboard key.
type SetBlackboardData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// JoystickData mirrors the operator's joystick onto the blackboard.
type JoystickData struct {
	Active bool    `json:"active"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// LoadTreeData carries a complete tree document.
type LoadTreeData struct {
	Name       string `json:"name,omitempty"`
	Format     string `json:"format"`
	Definition string `json:"definition"`
}

// BatchData runs several commands in order, stopping at the first failure.
type BatchData struct {
	Commands []Command `json:"commands"`
}
