package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"example.com/unitbrain/internal/agent/behavior/tasks"
	"example.com/unitbrain/internal/db"
	sshc "example.com/unitbrain/internal/ssh"
)

// Publisher sends commands to agents.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Controller holds shared dependencies for HTTP handlers.
type Controller struct {
	DB       *db.DB
	MQTT     Publisher
	Hub      *Hub
	Registry *tasks.Registry
	// Push uploads files to a unit host; sshc.PushFiles unless replaced.
	Push func(h sshc.HostSpec, files []sshc.File) error

	log *slog.Logger
}

func New(dbConn *db.DB, pub Publisher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		DB:       dbConn,
		MQTT:     pub,
		Hub:      NewHub(logger),
		Registry: tasks.DefaultRegistry(),
		Push:     sshc.PushFiles,
		log:      logger,
	}
}

func (c *Controller) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func parseIDFromPath(path, prefix string) (int64, error) {
	if !strings.HasPrefix(path, prefix) {
		return 0, errors.New("invalid path")
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return 0, errors.New("missing id")
	}
	return strconv.ParseInt(tail, 10, 64)
}

// parseSubresourceID reads the id out of paths like /api/units/7/command.
func parseSubresourceID(path, prefix, suffix string) (int64, error) {
	trimmed := strings.TrimSuffix(path, "/")
	if !strings.HasPrefix(trimmed, prefix) || !strings.HasSuffix(trimmed, suffix) {
		return 0, fmt.Errorf("invalid %s path", strings.TrimPrefix(suffix, "/"))
	}
	return parseIDFromPath(strings.TrimSuffix(trimmed, suffix), prefix)
}
