package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"example.com/unitbrain/internal/agent"
	"example.com/unitbrain/internal/db"
)

var knownCommands = map[string]bool{
	agent.CmdSetBlackboard: true,
	agent.CmdJoystick:      true,
	agent.CmdEnable:        true,
	agent.CmdDisable:       true,
	agent.CmdLoadTree:      true,
	agent.CmdReloadTree:    true,
	agent.CmdRebuildSync:   true,
	agent.CmdBatch:         true,
}

type commandRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type commandResponse struct {
	Topic   string        `json:"topic"`
	Command agent.Command `json:"command"`
}

func (req commandRequest) command() (agent.Command, error) {
	if req.Type == "" {
		return agent.Command{}, errors.New("command type required")
	}
	if !knownCommands[req.Type] {
		return agent.Command{}, fmt.Errorf("unknown command %q", req.Type)
	}
	return agent.Command{Type: req.Type, Data: req.Data}, nil
}

func (c *Controller) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := c.DB.ListUnits(r.Context())
	if err != nil {
		c.log.Error("list units", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list units")
		return
	}
	views := make([]unitView, 0, len(units))
	for _, u := range units {
		views = append(views, viewUnit(u))
	}
	respondJSON(w, http.StatusOK, views)
}

func (c *Controller) GetUnit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/units/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid unit id")
		return
	}
	unit, ok := c.loadUnit(w, r.Context(), id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewUnit(unit))
}

func (c *Controller) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/units/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid unit id")
		return
	}
	if err := c.DB.DeleteUnit(r.Context(), id); err != nil {
		c.log.Error("delete unit", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete unit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) UnitCommand(w http.ResponseWriter, r *http.Request) {
	id, err := parseSubresourceID(r.URL.Path, "/api/units/", "/command")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	unit, ok := c.loadUnit(w, r.Context(), id)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command payload")
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := c.sendCommand(unit, cmd)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

func (c *Controller) BroadcastCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command payload")
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		c.log.Error("marshal broadcast", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to encode command")
		return
	}
	c.log.Info("broadcast command", "type", cmd.Type, "topic", agent.CommandTopicAll)
	c.MQTT.Publish(agent.CommandTopicAll, payload)
	respondJSON(w, http.StatusAccepted, commandResponse{Topic: agent.CommandTopicAll, Command: cmd})
}

func (c *Controller) UpdateInstallConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parseSubresourceID(r.URL.Path, "/api/units/", "/install-config")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid install config")
		return
	}
	cfg, err := req.credentials(true)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.DB.UpdateUnitInstallConfig(r.Context(), id, cfg); err != nil {
		c.log.Error("update install config", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save install config")
		return
	}
	unit, ok := c.loadUnit(w, r.Context(), id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewUnit(unit))
}

// loadUnit writes the error response itself when the unit cannot be loaded.
func (c *Controller) loadUnit(w http.ResponseWriter, ctx context.Context, id int64) (db.Unit, bool) {
	unit, err := c.DB.GetUnitByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "unit not found")
			return db.Unit{}, false
		}
		c.log.Error("get unit", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch unit")
		return db.Unit{}, false
	}
	return unit, true
}

func (c *Controller) sendCommand(unit db.Unit, cmd agent.Command) (commandResponse, error) {
	if unit.AgentID == "" {
		return commandResponse{}, fmt.Errorf("unit %s has no agent attached", unit.Name)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return commandResponse{}, fmt.Errorf("marshal command: %w", err)
	}
	topic := agent.CommandTopic(unit.AgentID)
	c.log.Info("command sent", "type", cmd.Type, "unit", unit.Name, "agent", unit.AgentID, "topic", topic)
	c.MQTT.Publish(topic, payload)
	return commandResponse{Topic: topic, Command: cmd}, nil
}
