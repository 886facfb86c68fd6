package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/unitbrain/internal/controller"
	"example.com/unitbrain/internal/db"
	"example.com/unitbrain/internal/events"
	mqttc "example.com/unitbrain/internal/mqtt"
)

// Config is read from the environment by ConfigFromEnv.
type Config struct {
	DBPath    string
	Addr      string
	Broker    string
	WebRoot   string
	Retention time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		DBPath:  os.Getenv("DB_PATH"),
		Addr:    os.Getenv("HTTP_ADDR"),
		Broker:  os.Getenv("MQTT_BROKER"),
		WebRoot: os.Getenv("WEB_ROOT"),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "unitbrain.db"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WebRoot == "" {
		cfg.WebRoot = "./web/dist"
	}
	if v := os.Getenv("EVENT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention = d
		}
	}
	return cfg
}

type Server struct {
	DB         *db.DB
	MQTT       *mqttc.Client
	Controller *controller.Controller
	SSE        *SSEBroker
	Ingest     *Ingest
	Metrics    *prometheus.Registry

	cfg Config
	log *slog.Logger
}

// NewServer opens the database and connects to the broker. Unit status and
// event subscriptions are renewed on every reconnect.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := newServer(cfg, dbConn, nil, logger)
	s.MQTT = mqttc.NewClientWithHandler("controller", cfg.Broker, s.subscribe)
	s.Controller.MQTT = s.MQTT
	return s, nil
}

func newServer(cfg Config, dbConn *db.DB, pub controller.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := prometheus.NewRegistry()
	ctrl := controller.New(dbConn, pub, logger)
	sse := NewSSEBroker(logger)
	return &Server{
		DB:         dbConn,
		Controller: ctrl,
		SSE:        sse,
		Ingest:     NewIngest(dbConn, ctrl.Hub, sse, reg, logger),
		Metrics:    reg,
		cfg:        cfg,
		log:        logger,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/units", s.handleListUnits)
	mux.HandleFunc("/api/units/command/broadcast", s.handleBroadcast)
	mux.HandleFunc("/api/units/", s.handleUnitSubroutes)
	mux.HandleFunc("/api/trees", s.handleTreesCollection)
	mux.HandleFunc("/api/trees/validate", s.handleValidateTree)
	mux.HandleFunc("/api/trees/", s.handleTreeItem)
	mux.HandleFunc("/api/events", s.handleListEvents)
	mux.Handle("/api/events/stream", s.SSE)
	mux.HandleFunc("/api/events/ws", s.Controller.HandleEventsWS)
	mux.HandleFunc("/api/settings/install-defaults", s.handleInstallDefaults)
	mux.Handle("/", http.FileServer(http.Dir(s.cfg.WebRoot)))
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Retention > 0 {
		go s.pruneEvents(ctx)
	}
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("controller listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() error {
	s.MQTT.Disconnect(250)
	return s.DB.Close()
}

func (s *Server) pruneEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-s.cfg.Retention).UnixMilli()
		if n, err := s.DB.PruneEvents(ctx, cutoff); err != nil {
			s.log.Warn("prune events", "error", err)
		} else if n > 0 {
			s.log.Info("pruned events", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) subscribe(client mqtt.Client) {
	s.log.Info("controller subscribing", "topics", []string{statusTopicPattern, events.TopicPattern})
	handler := func(fn func(context.Context, string, []byte) error) mqtt.MessageHandler {
		return func(_ mqtt.Client, msg mqtt.Message) {
			if err := fn(context.Background(), msg.Topic(), msg.Payload()); err != nil {
				s.log.Warn("ingest", "error", err)
			}
		}
	}
	for topic, fn := range map[string]func(context.Context, string, []byte) error{
		statusTopicPattern:  s.Ingest.HandleStatus,
		events.TopicPattern: s.Ingest.HandleEvent,
	} {
		if token := client.Subscribe(topic, 0, handler(fn)); token.Wait() && token.Error() != nil {
			s.log.Error("mqtt subscribe error", "topic", topic, "error", token.Error())
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.Health(w, r)
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.ListUnits(w, r)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.Controller.BroadcastCommand(w, r)
}

func (s *Server) handleUnitSubroutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(trimmed, "/command"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.Controller.UnitCommand(w, r)
	case strings.HasSuffix(trimmed, "/deploy"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.Controller.DeployTree(w, r)
	case strings.HasSuffix(trimmed, "/install-config"):
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.Controller.UpdateInstallConfig(w, r)
	case r.Method == http.MethodGet:
		s.Controller.GetUnit(w, r)
	case r.Method == http.MethodDelete:
		s.Controller.DeleteUnit(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTreesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.ListTrees(w, r)
	case http.MethodPost:
		s.Controller.CreateTree(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleValidateTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.Controller.ValidateTree(w, r)
}

func (s *Server) handleTreeItem(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/apply") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.Controller.ApplyTree(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.Controller.GetTree(w, r)
	case http.MethodPut:
		s.Controller.UpdateTree(w, r)
	case http.MethodDelete:
		s.Controller.DeleteTree(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.ListEvents(w, r)
}

func (s *Server) handleInstallDefaults(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.GetInstallDefaults(w, r)
	case http.MethodPut:
		s.Controller.UpdateInstallDefaults(w, r)
	default:
		methodNotAllowed(w)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
