package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/unitbrain/internal/agent"
	"example.com/unitbrain/internal/controller"
	"example.com/unitbrain/internal/db"
	"example.com/unitbrain/internal/events"
)

const statusTopicPattern = "lab/status/#"

// Ingest turns unit heartbeats and event records into database rows and
// pushes events to live viewers.
type Ingest struct {
	DB  *db.DB
	Hub *controller.Hub
	SSE *SSEBroker

	log      *slog.Logger
	received *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func NewIngest(d *db.DB, hub *controller.Hub, sse *SSEBroker, reg prometheus.Registerer, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	factory := promauto.With(reg)
	return &Ingest{
		DB:  d,
		Hub: hub,
		SSE: sse,
		log: logger,
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unitbrain_ingested_messages_total",
			Help: "Messages accepted from units, by kind",
		}, []string{"kind"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unitbrain_rejected_messages_total",
			Help: "Messages dropped because they could not be decoded or stored, by kind",
		}, []string{"kind"}),
	}
}

// HandleStatus records a heartbeat from lab/status/<agent>.
func (in *Ingest) HandleStatus(ctx context.Context, topic string, payload []byte) error {
	agentID := parseAgentIDFromTopic(topic)
	if agentID == "" {
		in.rejected.WithLabelValues("status").Inc()
		return fmt.Errorf("status: unable to parse agent id from topic %s", topic)
	}
	var s agent.Status
	if err := json.Unmarshal(payload, &s); err != nil {
		in.rejected.WithLabelValues("status").Inc()
		return fmt.Errorf("status: invalid payload for %s: %w", agentID, err)
	}
	name := s.Name
	if name == "" {
		name = agentID
	}
	us := db.UnitStatus{AgentID: agentID, Name: name, IP: s.IP, Status: s.Status, Type: s.Type}
	if s.Tree != nil {
		us.TreeName = s.Tree.Name
		us.Running = s.Tree.Running
		us.RunID = s.Tree.RunID
	}
	if err := in.DB.UpsertUnitStatus(ctx, us); err != nil {
		in.rejected.WithLabelValues("status").Inc()
		return fmt.Errorf("status: upsert unit %s: %w", agentID, err)
	}
	in.received.WithLabelValues("status").Inc()
	in.log.Debug("status update", "agent", agentID, "status", s.Status, "ip", s.IP)
	return nil
}

// HandleEvent journals one record from lab/bt/<unit>/events and forwards it.
func (in *Ingest) HandleEvent(ctx context.Context, topic string, payload []byte) error {
	rec, err := events.Decode(payload)
	if err != nil {
		in.rejected.WithLabelValues("event").Inc()
		return fmt.Errorf("event on %s: %w", topic, err)
	}
	unitID := rec.UnitID
	if unitID == "" {
		unitID = parseUnitIDFromEventTopic(topic)
	}
	if unitID == "" {
		in.rejected.WithLabelValues("event").Inc()
		return fmt.Errorf("event on %s: no unit id", topic)
	}
	_, err = in.DB.InsertEvent(ctx, db.Event{
		UnitID:   unitID,
		RunID:    rec.RunID,
		Event:    rec.Event,
		TaskID:   rec.TaskID,
		TaskName: rec.TaskName,
		Status:   rec.Status,
		StackID:  rec.StackID,
		TS:       rec.Timestamp,
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		in.rejected.WithLabelValues("event").Inc()
		return fmt.Errorf("journal event from %s: %w", unitID, err)
	}
	in.received.WithLabelValues("event").Inc()
	if in.Hub != nil {
		in.Hub.Broadcast(unitID, payload)
	}
	if in.SSE != nil {
		in.SSE.Broadcast(unitID, rec.Event, payload)
	}
	return nil
}

func parseAgentIDFromTopic(topic string) string {
	const prefix = "lab/status/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, prefix)
}

func parseUnitIDFromEventTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "lab" || parts[1] != "bt" || parts[3] != "events" {
		return ""
	}
	return parts[2]
}
