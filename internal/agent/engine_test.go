package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/events"
	"example.com/unitbrain/internal/treedef"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBroker struct {
	mu   sync.Mutex
	msgs []message
}

func (b *fakeBroker) Publish(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message{topic: topic, payload: payload})
}

func (b *fakeBroker) PublishRetained(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message{topic: topic, payload: payload, retained: true})
}

func (b *fakeBroker) records(t *testing.T, topic string) []events.Record {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Record
	for _, m := range b.msgs {
		if m.topic != topic {
			continue
		}
		r, err := events.Decode(m.payload)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

const followTree = `
root:
  type: Selector
  children:
    - type: Sequence
      abort: lower_priority
      children:
        - type: NeedFollowJoystick
        - type: FollowJoystick
          name: follow
          sync: true
    - type: Idle
      name: idle
`

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeBroker) {
	t.Helper()
	if cfg.AgentID == "" {
		cfg.AgentID = "tb3-07"
	}
	broker := &fakeBroker{}
	return NewEngine(cfg, nil, WithPublisher(broker), WithClock(behavior.NewManualClock(0))), broker
}

func command(t *testing.T, typ string, data any) Command {
	t.Helper()
	cmd := Command{Type: typ}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = b
	}
	return cmd
}

func TestLoadTreeAndJoystick(t *testing.T) {
	e, broker := newTestEngine(t, Config{})
	require.NoError(t, e.HandleCommand(command(t, CmdLoadTree, LoadTreeData{Name: "follow", Format: "yaml", Definition: followTree})))
	require.NotNil(t, e.Tree())

	e.Tick()
	assert.True(t, e.Tree().IsRunning())

	require.True(t, e.Enqueue(command(t, CmdJoystick, JoystickData{Active: true, X: 0.2, Y: 1})))
	e.Tick()

	var follow []events.Record
	for _, r := range broker.records(t, events.Topic("tb3-07")) {
		if r.TaskName == "follow" && r.Event == events.EventActionPostOnUpdate {
			follow = append(follow, r)
		}
	}
	require.Len(t, follow, 1, "joystick press interrupts idle within the tick")
	require.Len(t, follow[0].Data, 1)
	assert.JSONEq(t, `{"linear":1,"angular":0.2}`, string(follow[0].Data[0]))

	s := e.Status()
	require.NotNil(t, s.Tree)
	assert.Equal(t, "follow", s.Tree.Name)
	assert.True(t, s.Tree.Running)
	assert.Equal(t, e.Tree().TaskCount(), s.Tree.Tasks)
}

func TestLoadTreeKeepsRunningTreeOnError(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	require.NoError(t, e.LoadTree("idle", treedef.FormatYAML, []byte("root: {type: Idle}")))
	running := e.Tree()
	e.Tick()

	err := e.HandleCommand(command(t, CmdLoadTree, LoadTreeData{Format: "yaml", Definition: "root: {type: Teleport}"}))
	require.ErrorIs(t, err, behavior.ErrCompile)
	assert.Same(t, running, e.Tree())
	assert.True(t, running.IsRunning())

	s := e.Status()
	assert.Equal(t, "error", s.Status)
	assert.Contains(t, s.Tree.Error, "Teleport")
}

func TestEnableDisableCommands(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	assert.Error(t, e.HandleCommand(Command{Type: CmdEnable}), "no tree yet")
	assert.NoError(t, e.HandleCommand(Command{Type: CmdDisable}))

	require.NoError(t, e.LoadTree("idle", treedef.FormatYAML, []byte("root: {type: Idle}")))
	e.Tick()
	require.NoError(t, e.HandleCommand(Command{Type: CmdDisable}))
	assert.False(t, e.Tree().IsRunning())

	require.NoError(t, e.HandleCommand(Command{Type: CmdEnable}))
	require.NoError(t, e.HandleCommand(Command{Type: CmdEnable}), "enable while running is not an error")
	assert.True(t, e.Tree().IsRunning())

	assert.Error(t, e.HandleCommand(Command{Type: "self_destruct"}))
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	batch := BatchData{Commands: []Command{
		command(t, CmdSetBlackboard, SetBlackboardData{Key: "mode", Value: "patrol"}),
		command(t, CmdSetBlackboard, SetBlackboardData{}),
		command(t, CmdSetBlackboard, SetBlackboardData{Key: "never", Value: true}),
	}}
	err := e.HandleCommand(command(t, CmdBatch, batch))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch failed at set_blackboard")
	assert.Equal(t, "patrol", e.Blackboard().GetString("mode"))
	assert.False(t, e.Blackboard().Has("never"))
}

func TestReloadTreeFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`task "Idle" { name = "idle" }`), 0o644))

	e, _ := newTestEngine(t, Config{TreePath: path})
	require.NoError(t, e.HandleCommand(Command{Type: CmdReloadTree}))
	e.Tick()
	assert.True(t, e.Tree().IsRunning())
	assert.Equal(t, 2, e.Tree().TaskCount())
}

func TestRebuildSyncPublishesState(t *testing.T) {
	e, broker := newTestEngine(t, Config{})
	require.NoError(t, e.LoadTree("follow", treedef.FormatYAML, []byte(followTree)))
	e.Blackboard().Set(behavior.KeyJoystickActive, true)
	e.Tick()

	require.NoError(t, e.HandleCommand(Command{Type: CmdRebuildSync}))
	var kinds []string
	for _, r := range broker.records(t, events.Topic("tb3-07")) {
		switch r.Event {
		case events.EventSyncStack, events.EventSyncAction:
			kinds = append(kinds, r.Event)
		}
	}
	assert.Equal(t, []string{events.EventSyncStack, events.EventSyncAction}, kinds)
}

func TestHeartbeatIsRetained(t *testing.T) {
	e, broker := newTestEngine(t, Config{})
	e.Tick()
	e.Tick()

	var beats []message
	for _, m := range broker.msgs {
		if m.topic == StatusTopic("tb3-07") {
			beats = append(beats, m)
		}
	}
	require.Len(t, beats, 1, "second tick is inside the heartbeat interval")
	assert.True(t, beats[0].retained)

	var s Status
	require.NoError(t, json.Unmarshal(beats[0].payload, &s))
	assert.Equal(t, "ok", s.Status)
	assert.Equal(t, "tb3-07", s.Name)
	assert.Nil(t, s.Tree)
}

func TestMetricsWiring(t *testing.T) {
	m, err := events.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	broker := &fakeBroker{}
	e := NewEngine(Config{AgentID: "tb3-07"}, nil, WithPublisher(broker), WithMetrics(m))
	require.NoError(t, e.LoadTree("idle", treedef.FormatYAML, []byte("root: {type: Idle}")))
	e.Tick()
	assert.NotEmpty(t, broker.records(t, events.Topic("tb3-07")))
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt_broker: tcp://broker:1883\nlog_level: debug\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Regexp(t, `^unit-[0-9a-f]{8}$`, cfg.AgentID)
	assert.Equal(t, 10, cfg.TickHz)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}
