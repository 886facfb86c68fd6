package events

import (
	"log/slog"

	"example.com/unitbrain/internal/agent/behavior"
)

// TopicPattern matches the event topics of every unit.
const TopicPattern = "lab/bt/+/events"

// Topic is where a unit's agent replicates its tree events.
func Topic(unitID string) string {
	return "lab/bt/" + unitID + "/events"
}

// Publisher is satisfied by the MQTT client wrapper.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// NewMQTTSink publishes every record as JSON on the unit's event topic. With
// skipUpdates set, plain PostOnUpdate records are dropped; they fire for every
// running task on every tick.
func NewMQTTSink(pub Publisher, unitID string, skipUpdates bool, logger *slog.Logger) behavior.EventSink {
	topic := Topic(unitID)
	return Forward(func(r Record) {
		if skipUpdates && r.Event == EventPostOnUpdate {
			return
		}
		payload, err := Encode(r)
		if err != nil {
			logger.Warn("encode event record", "event", r.Event, "error", err)
			return
		}
		pub.Publish(topic, payload)
	})
}
