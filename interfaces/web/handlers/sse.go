package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivesync/domain/events"
	"drivesync/domain/jobs"
	"drivesync/interfaces/web/presenters"
	"drivesync/logging"
)

// EventSource is the subset of the sync event bus the stream listens to.
type EventSource interface {
	OnPassCompleted(handler func(events.PassCompletedEvent))
	OnPassFailed(handler func(events.PassFailedEvent))
	OnPassCancelled(handler func(events.PassCancelledEvent))
	OnTenantConnectionBroken(handler func(events.TenantConnectionBrokenEvent))
}

// SSEClient represents a connected Server-Sent Events client.
type SSEClient struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *SSEClient) close() {
	c.once.Do(func() { close(c.done) })
}

// SSEManager streams job outcomes to operators over Server-Sent Events.
type SSEManager struct {
	clients      map[string]*SSEClient
	mu           sync.RWMutex
	jobPresenter *presenters.JobPresenter
	keepAlive    time.Duration
	logger       *logging.Logger
}

// NewSSEManager creates the stream. Keep-alives stop when ctx is done.
func NewSSEManager(ctx context.Context, jobPresenter *presenters.JobPresenter) *SSEManager {
	manager := &SSEManager{
		clients:      make(map[string]*SSEClient),
		jobPresenter: jobPresenter,
		keepAlive:    30 * time.Second,
		logger:       logging.Default().WithComponent("sse_manager"),
	}
	go manager.keepAliveRoutine(ctx)
	return manager
}

// Subscribe forwards job outcomes from the bus to connected clients.
func (s *SSEManager) Subscribe(source EventSource) {
	source.OnPassCompleted(func(e events.PassCompletedEvent) { s.BroadcastJobUpdate(e.Job) })
	source.OnPassFailed(func(e events.PassFailedEvent) { s.BroadcastJobUpdate(e.Job) })
	source.OnPassCancelled(func(e events.PassCancelledEvent) { s.BroadcastJobUpdate(e.Job) })
	source.OnTenantConnectionBroken(func(e events.TenantConnectionBrokenEvent) {
		payload, _ := json.Marshal(map[string]string{"tenant_id": e.TenantID, "reason": e.Reason})
		s.broadcast("tenant-broken", string(payload))
	})
}

// AddClient adds a new SSE client connection
func (s *SSEManager) AddClient(clientID string, w http.ResponseWriter) *SSEClient {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Response writer does not support flushing")
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &SSEClient{
		id:      clientID,
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[clientID] = client
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("SSE client connected", "client_id", clientID, "total_clients", total)
	return client
}

// RemoveClient removes an SSE client connection
func (s *SSEManager) RemoveClient(clientID string) {
	s.mu.Lock()
	client, exists := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if exists {
		client.close()
		s.logger.Info("SSE client disconnected", "client_id", clientID)
	}
}

// CloseAll disconnects every client so open streams do not hold up server shutdown.
func (s *SSEManager) CloseAll() {
	s.mu.Lock()
	clientList := s.clients
	s.clients = make(map[string]*SSEClient)
	s.mu.Unlock()

	for _, client := range clientList {
		client.close()
	}
	s.logger.Info("Closed SSE connections", "clients", len(clientList))
}

// ClientCount returns the number of connected clients.
func (s *SSEManager) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastJobUpdate sends the job's view to every client.
func (s *SSEManager) BroadcastJobUpdate(job *jobs.Job) {
	view := s.jobPresenter.FormatJobStatus(job)
	if view == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		s.logger.Error("Failed to encode job update", "job_id", job.ID, "error", err)
		return
	}
	s.broadcast("job", string(payload))
}

func (s *SSEManager) broadcast(event, data string) {
	// Copy clients list to avoid holding lock during I/O
	s.mu.RLock()
	clientList := make([]*SSEClient, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.RUnlock()

	if len(clientList) == 0 {
		return
	}

	var failed []string
	for _, client := range clientList {
		if err := s.sendToClient(client, event, data); err != nil {
			s.logger.Warn("Failed to send event to client", "client_id", client.id, "event", event, "error", err)
			failed = append(failed, client.id)
		}
	}
	for _, clientID := range failed {
		s.RemoveClient(clientID)
	}

	s.logger.Debug("Broadcasted event", "event", event, "clients", len(clientList), "failed", len(failed))
}

// sendToClient sends an SSE message to a specific client
func (s *SSEManager) sendToClient(client *SSEClient, event, data string) error {
	select {
	case <-client.done:
		return fmt.Errorf("client connection closed")
	default:
	}

	var message string
	if event == "keepalive" {
		message = fmt.Sprintf(": %s\n\n", data)
	} else {
		message = fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, err := client.writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	client.flusher.Flush()
	return nil
}

func (s *SSEManager) keepAliveRoutine(ctx context.Context) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast("keepalive", time.Now().UTC().Format(time.RFC3339))
		}
	}
}

// HandleSSEConnection handles the SSE endpoint
func (s *SSEManager) HandleSSEConnection(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := s.AddClient(clientID, w)
	if client == nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if err := s.sendToClient(client, "keepalive", "connected"); err != nil {
		s.RemoveClient(clientID)
		return
	}

	select {
	case <-r.Context().Done():
	case <-client.done:
	}
	s.RemoveClient(clientID)
}
