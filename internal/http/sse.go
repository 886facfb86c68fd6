package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// sseMessage is one journaled record on its way to browsers.
type sseMessage struct {
	unitID string
	event  string
	data   []byte
}

type sseClient struct {
	unitID string // empty follows every unit
	ch     chan sseMessage
}

// SSEBroker pushes event records to browsers over server-sent events. Each
// record is written with its event name so EventSource listeners can pick
// the lifecycle transitions they care about.
type SSEBroker struct {
	clients    map[*sseClient]struct{}
	newClients chan *sseClient
	defunct    chan *sseClient
	messages   chan sseMessage
	mutex      sync.Mutex
	log        *slog.Logger
}

func NewSSEBroker(logger *slog.Logger) *SSEBroker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &SSEBroker{
		clients:    make(map[*sseClient]struct{}),
		newClients: make(chan *sseClient),
		defunct:    make(chan *sseClient),
		messages:   make(chan sseMessage, 64),
		log:        logger,
	}
	go b.run()
	return b
}

func (b *SSEBroker) run() {
	for {
		select {
		case c := <-b.newClients:
			b.mutex.Lock()
			b.clients[c] = struct{}{}
			b.mutex.Unlock()
			b.log.Debug("sse client joined", "unit", c.unitID)

		case c := <-b.defunct:
			b.mutex.Lock()
			delete(b.clients, c)
			close(c.ch)
			b.mutex.Unlock()
			b.log.Debug("sse client left", "unit", c.unitID)

		case msg := <-b.messages:
			b.mutex.Lock()
			for c := range b.clients {
				if c.unitID != "" && c.unitID != msg.unitID {
					continue
				}
				select {
				case c.ch <- msg:
				default:
					b.log.Debug("sse client lagging, dropped record", "unit", msg.unitID, "event", msg.event)
				}
			}
			b.mutex.Unlock()
		}
	}
}

// Clients reports connected SSE clients.
func (b *SSEBroker) Clients() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.clients)
}

// ServeHTTP streams records until the request ends. ?unit= restricts the
// stream to one unit.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{unitID: r.URL.Query().Get("unit"), ch: make(chan sseMessage, 16)}
	b.newClients <- client
	go func() {
		<-r.Context().Done()
		b.defunct <- client
	}()

	for msg := range client.ch {
		if msg.event != "" {
			fmt.Fprintf(w, "event: %s\n", msg.event)
		}
		fmt.Fprintf(w, "data: %s\n\n", msg.data)
		flusher.Flush()
	}
}

// Broadcast queues a record for every client following unitID.
func (b *SSEBroker) Broadcast(unitID, event string, data []byte) {
	b.messages <- sseMessage{unitID: unitID, event: event, data: data}
}
