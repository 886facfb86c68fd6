package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"

	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/agent/behavior/tasks"
	"example.com/unitbrain/internal/events"
	mqttc "example.com/unitbrain/internal/mqtt"
	"example.com/unitbrain/internal/treedef"
)

// Publisher is the slice of the MQTT client the engine needs.
type Publisher interface {
	Publish(topic string, payload []byte)
	PublishRetained(topic string, payload []byte)
}

// Status is the retained heartbeat a unit publishes on lab/status/<agent>.
type Status struct {
	Status string      `json:"status"`
	TS     string      `json:"ts"`
	IP     string      `json:"ip"`
	Type   string      `json:"type,omitempty"`
	Name   string      `json:"name,omitempty"`
	Tree   *TreeStatus `json:"tree,omitempty"`
}

type TreeStatus struct {
	Name    string `json:"name,omitempty"`
	Running bool   `json:"running"`
	RunID   string `json:"run_id,omitempty"`
	Tasks   int    `json:"tasks"`
	Stacks  int    `json:"stacks"`
	Error   string `json:"error,omitempty"`
}

func StatusTopic(agentID string) string { return "lab/status/" + agentID }

func CommandTopic(agentID string) string { return "lab/commands/" + agentID }

const CommandTopicAll = "lab/commands/all"

// Engine hosts one behavior tree for one unit and ticks it at a fixed rate.
// All tree access happens on the goroutine calling Tick.
type Engine struct {
	Config   Config
	Registry *tasks.Registry
	Metrics  *events.Metrics

	log   *slog.Logger
	pub   Publisher
	bb    *behavior.Blackboard
	clock behavior.Clock

	tree     *behavior.Tree
	treeName string
	treeErr  error

	cmdChan       chan Command
	lastIP        string
	lastHeartbeat time.Time
	mqttClient    *mqttc.Client
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

func WithClock(c behavior.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithMetrics(m *events.Metrics) Option { return func(e *Engine) { e.Metrics = m } }

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		Config:   cfg,
		Registry: tasks.DefaultRegistry(),
		log:      logger.With("agent", cfg.AgentID),
		bb:       behavior.NewBlackboard(),
		clock:    behavior.SystemClock{},
		cmdChan:  make(chan Command, 32),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Blackboard() *behavior.Blackboard { return e.bb }

// Tree returns the loaded tree, or nil.
func (e *Engine) Tree() *behavior.Tree { return e.tree }

// Start connects to MQTT, loads the configured tree and ticks until ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	if e.pub == nil {
		e.connectMQTT()
	}
	if e.Config.TreePath != "" {
		if err := e.ReloadTree(); err != nil {
			e.log.Error("initial tree load failed", "path", e.Config.TreePath, "error", err)
		}
	}

	ticker := time.NewTicker(e.Config.TickInterval())
	defer ticker.Stop()

	e.log.Info("agent engine started", "tick", e.Config.TickInterval(), "tree", e.Config.TreePath)
	for {
		select {
		case <-ctx.Done():
			if e.tree != nil {
				_ = e.tree.Disable()
			}
			e.publishHeartbeat()
			e.mqttClient.Disconnect(250)
			return ctx.Err()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick drains queued commands, advances the tree once and sends a heartbeat
// when one is due.
func (e *Engine) Tick() {
	e.processCommands()
	if e.tree != nil {
		e.tree.Update()
	}
	if time.Since(e.lastHeartbeat) >= e.Config.HeartbeatInterval() {
		e.publishHeartbeat()
	}
}

// Enqueue queues a command for the next tick. It reports false when the queue
// is full.
func (e *Engine) Enqueue(cmd Command) bool {
	select {
	case e.cmdChan <- cmd:
		return true
	default:
		return false
	}
}

func (e *Engine) connectMQTT() {
	onConnect := func(c mqttlib.Client) {
		e.log.Info("mqtt connected")
		for _, topic := range []string{CommandTopic(e.Config.AgentID), CommandTopicAll} {
			e.log.Info("subscribing", "topic", topic)
			if token := c.Subscribe(topic, 0, e.mqttHandler); token.Wait() && token.Error() != nil {
				e.log.Error("subscribe failed", "topic", topic, "error", token.Error())
			}
		}
	}
	e.mqttClient = mqttc.NewClientWithHandler("agent-"+e.Config.AgentID, e.Config.MQTTBroker, onConnect)
	e.pub = e.mqttClient
}

func (e *Engine) mqttHandler(_ mqttlib.Client, msg mqttlib.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		e.log.Warn("invalid command JSON", "topic", msg.Topic(), "error", err)
		return
	}
	if e.Enqueue(cmd) {
		e.log.Debug("queued command", "type", cmd.Type)
	} else {
		e.log.Warn("command queue full, dropping command", "type", cmd.Type)
	}
}

func (e *Engine) processCommands() {
	for {
		select {
		case cmd := <-e.cmdChan:
			if err := e.HandleCommand(cmd); err != nil {
				e.log.Error("command failed", "type", cmd.Type, "error", err)
			}
		default:
			return
		}
	}
}

// HandleCommand applies one command. It must run on the ticking goroutine.
func (e *Engine) HandleCommand(cmd Command) error {
	switch cmd.Type {
	case CmdSetBlackboard:
		var payload SetBlackboardData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return fmt.Errorf("%s payload: %w", cmd.Type, err)
		}
		if payload.Key == "" {
			return errors.New("set_blackboard: key is required")
		}
		e.bb.Set(payload.Key, payload.Value)
	case CmdJoystick:
		var payload JoystickData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return fmt.Errorf("%s payload: %w", cmd.Type, err)
		}
		e.bb.Set(behavior.KeyJoystickActive, payload.Active)
		e.bb.Set(behavior.KeyJoystickX, payload.X)
		e.bb.Set(behavior.KeyJoystickY, payload.Y)
	case CmdEnable:
		if e.tree == nil {
			return errors.New("no tree loaded")
		}
		if err := e.tree.Enable(); err != nil && !errors.Is(err, behavior.ErrAlreadyRunning) {
			return err
		}
	case CmdDisable:
		if e.tree != nil {
			return e.tree.Disable()
		}
	case CmdLoadTree:
		var payload LoadTreeData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return fmt.Errorf("%s payload: %w", cmd.Type, err)
		}
		format, err := treedef.ParseFormat(payload.Format)
		if err != nil {
			return err
		}
		return e.LoadTree(payload.Name, format, []byte(payload.Definition))
	case CmdReloadTree:
		return e.ReloadTree()
	case CmdRebuildSync:
		e.RebuildSync()
	case CmdBatch:
		var payload BatchData
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return fmt.Errorf("%s payload: %w", cmd.Type, err)
		}
		for i, c := range payload.Commands {
			e.log.Info("batch: executing command", "index", i+1, "of", len(payload.Commands), "type", c.Type)
			if err := e.HandleCommand(c); err != nil {
				return fmt.Errorf("batch failed at %s: %w", c.Type, err)
			}
		}
	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	return nil
}

// ReloadTree loads the document at Config.TreePath.
func (e *Engine) ReloadTree() error {
	if e.Config.TreePath == "" {
		return errors.New("tree_path not configured")
	}
	format, err := treedef.FormatFromPath(e.Config.TreePath)
	if err != nil {
		return err
	}
	doc, err := os.ReadFile(e.Config.TreePath)
	if err != nil {
		return fmt.Errorf("read tree: %w", err)
	}
	return e.LoadTree(e.Config.TreePath, format, doc)
}

// LoadTree compiles a new tree document and swaps it in for the running one.
// The running tree is left untouched when the document does not compile.
func (e *Engine) LoadTree(name string, format treedef.Format, doc []byte) error {
	tree := behavior.New(doc, treedef.Parser{Format: format, Registry: e.Registry},
		behavior.WithUnit(behavior.StaticUnit(e.Config.AgentID)),
		behavior.WithClock(e.clock),
		behavior.WithBlackboard(e.bb),
		behavior.WithLogger(e.log),
		behavior.WithEvents(e.sink()),
		behavior.WithRestartWhenComplete(e.Config.RestartWhenComplete),
	)
	if err := tree.Compile(); err != nil {
		e.treeErr = err
		return err
	}
	if e.tree != nil {
		if err := e.tree.Disable(); err != nil {
			return err
		}
	}
	e.tree = tree
	e.treeName = name
	e.treeErr = nil
	e.log.Info("tree loaded", "name", name, "format", format, "tasks", tree.TaskCount())
	return tree.Enable()
}

// RebuildSync republishes the running tree's state for observers that joined
// late.
func (e *Engine) RebuildSync() {
	if e.tree == nil {
		return
	}
	pub := e.eventPublisher()
	e.tree.RebuildSync(events.SyncForward(func(r events.Record) {
		payload, err := events.Encode(r)
		if err != nil {
			e.log.Warn("encode sync record", "error", err)
			return
		}
		pub.Publish(events.Topic(e.Config.AgentID), payload)
	}))
}

func (e *Engine) sink() behavior.EventSink {
	sinks := events.Multi{
		events.NewLogSink(e.log, slog.LevelDebug),
		events.NewMQTTSink(e.eventPublisher(), e.Config.AgentID, !e.Config.PublishUpdates, e.log),
	}
	if e.Metrics != nil {
		sinks = append(sinks, e.Metrics.Sink())
	}
	return sinks
}

// eventPublisher defers to whichever publisher is current when an event fires.
func (e *Engine) eventPublisher() events.Publisher {
	return publisherFunc(func(topic string, payload []byte) {
		if e.pub != nil {
			e.pub.Publish(topic, payload)
		}
	})
}

type publisherFunc func(topic string, payload []byte)

func (f publisherFunc) Publish(topic string, payload []byte) { f(topic, payload) }

// Status reports the unit and tree state.
func (e *Engine) Status() Status {
	currentIP := DetectIPv4()
	if currentIP != e.lastIP {
		if e.lastIP != "" {
			e.log.Info("ip changed", "from", e.lastIP, "to", currentIP)
		}
		e.lastIP = currentIP
	}
	s := Status{
		Status: "ok",
		TS:     time.Now().Format(time.RFC3339),
		IP:     e.lastIP,
		Type:   e.Config.Type,
		Name:   e.Config.AgentID,
	}
	if e.tree != nil || e.treeErr != nil {
		ts := &TreeStatus{Name: e.treeName}
		if e.tree != nil {
			ts.Running = e.tree.IsRunning()
			ts.RunID = e.tree.RunID()
			ts.Tasks = e.tree.TaskCount()
			ts.Stacks = len(e.tree.Stacks())
		}
		if e.treeErr != nil {
			ts.Error = e.treeErr.Error()
			s.Status = "error"
		}
		s.Tree = ts
	}
	return s
}

func (e *Engine) publishHeartbeat() {
	if e.pub == nil {
		return
	}
	buf, err := json.Marshal(e.Status())
	if err != nil {
		e.log.Error("status marshal error", "error", err)
		return
	}
	e.pub.PublishRetained(StatusTopic(e.Config.AgentID), buf)
	e.lastHeartbeat = time.Now()
}
