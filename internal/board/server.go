// Package board provides the real-time workshop board server.
//
// The server broadcasts task changes (reconciliation results, status
// transitions, queue statistics) to connected WebSocket clients so the
// workshop screen updates live, and exposes the engine's JSON API for the
// surrounding web application:
//
//	POST /api/inspections/reconcile     submit collapsed defects
//	GET  /api/vehicles/{id}/locked-items  advisory lock set for the form
//	POST /api/tasks/{id}/status          apply a status transition
//	GET  /api/tasks                      filtered task listing
//	GET  /health
//	WS   /ws
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/locks"
	"github.com/fleetworks/fleetworks/internal/reconcile"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

// MessageType defines the type of board message.
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a task was created or updated.
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeReconcile indicates an inspection was reconciled.
	MessageTypeReconcile MessageType = "reconcile_complete"

	// MessageTypeStats indicates updated queue statistics.
	MessageTypeStats MessageType = "stats"
)

// Message represents a board broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdateData contains task change information.
type TaskUpdateData struct {
	TaskID     string `json:"task_id"`
	Action     string `json:"action"` // created, updated
	Status     string `json:"status,omitempty"`
	Title      string `json:"title,omitempty"`
	VehicleID  string `json:"vehicle_id,omitempty"`
	ItemNumber int    `json:"item_number,omitempty"`
}

// ReconcileData contains reconciliation summary information.
type ReconcileData struct {
	InspectionID string `json:"inspection_id"`
	VehicleID    string `json:"vehicle_id"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Duplicates   int    `json:"duplicates"`
}

// StatsData contains queue statistics.
type StatsData struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Active   int            `json:"active"`
}

// Deps are the engine services the board serves.
type Deps struct {
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	Resolver   *locks.Resolver
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server manages WebSocket connections and serves the engine API.
type Server struct {
	addr     string
	deps     Deps
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a new board server.
func NewServer(config *Config, deps Deps) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		deps:      deps,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("POST /api/inspections/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /api/vehicles/{id}/locked-items", s.handleLockedItems)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleTransition)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Board server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping board server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Board server stopped")
	return nil
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock so a slow client doesn't block
			// broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed; the board is broadcast-only.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// reconcileRequest is the inspection submission payload.
type reconcileRequest struct {
	InspectionID string `json:"inspection_id"`
	VehicleID    string `json:"vehicle_id"`
	ActorID      string `json:"actor_id"`
	Defects      []struct {
		ItemNumber      int    `json:"item_number"`
		ItemDescription string `json:"item_description"`
		AffectedDays    []int  `json:"affected_days"`
		Comment         string `json:"comment"`
		PrimaryItemID   string `json:"primary_item_id"`
	} `json:"defects"`
}

// handleReconcile feeds a submission through the reconciler.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.InspectionID == "" || req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("inspection_id and vehicle_id are required"))
		return
	}

	defects := make([]inspection.Defect, 0, len(req.Defects))
	for _, d := range req.Defects {
		defects = append(defects, inspection.Defect{
			ItemNumber:    d.ItemNumber,
			Description:   d.ItemDescription,
			AffectedDays:  d.AffectedDays,
			Comment:       d.Comment,
			PrimaryItemID: d.PrimaryItemID,
		})
	}

	result, err := s.deps.Reconciler.Reconcile(r.Context(), req.InspectionID, req.VehicleID, req.ActorID, defects)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.broadcastReconcile(req.InspectionID, req.VehicleID, result)
	writeJSON(w, http.StatusOK, result)
}

// handleLockedItems serves the advisory lock set for a vehicle.
func (s *Server) handleLockedItems(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("id")

	items, err := s.deps.Resolver.ComputeLockedItems(r.Context(), vehicleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// transitionRequest is the status change payload.
type transitionRequest struct {
	Status string `json:"status"`
	Undo   bool   `json:"undo"`
	Resume bool   `json:"resume"`
	Actor  string `json:"actor"`
	Note   string `json:"note"`
}

// handleTransition applies a status transition to a task.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	t, err := s.deps.Reconciler.Transition(r.Context(), taskID, task.TransitionRequest{
		To:     task.Status(req.Status),
		Undo:   req.Undo,
		Resume: req.Resume,
		Actor:  req.Actor,
		Note:   req.Note,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, task.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, taskJSON(t))
}

// handleListTasks serves a filtered task listing for the board UI.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		VehicleID:    r.URL.Query().Get("vehicle"),
		InspectionID: r.URL.Query().Get("inspection"),
		Type:         r.URL.Query().Get("type"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []task.Status{task.Status(status)}
	}

	tasks, err := s.deps.Store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Workshop Board</title>
</head>
<body>
    <h1>Workshop Board Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive real-time task updates.</p>
</body>
</html>`, r.Host)
}

func (s *Server) broadcastReconcile(inspectionID, vehicleID string, result *reconcile.Result) {
	data, err := json.Marshal(ReconcileData{
		InspectionID: inspectionID,
		VehicleID:    vehicleID,
		Created:      result.Created,
		Updated:      result.Updated,
		Skipped:      result.Skipped,
		Duplicates:   len(result.DuplicateGroups),
	})
	if err != nil {
		s.logger.Printf("Failed to marshal reconcile data: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeReconcile, Timestamp: time.Now(), Data: data})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func taskJSON(t *task.Task) map[string]interface{} {
	m := map[string]interface{}{
		"id":          t.ID,
		"type":        t.Type,
		"vehicle_id":  t.VehicleID,
		"signature":   t.Signature,
		"item_number": t.ItemNumber,
		"title":       t.Title,
		"description": t.Description,
		"comment":     t.Comment,
		"status":      string(t.Status),
		"created_by":  t.CreatedBy,
		"created_at":  t.CreatedAt,
		"updated_at":  t.UpdatedAt,
	}
	if t.InspectionID != "" {
		m["inspection_id"] = t.InspectionID
	}
	if t.PrimaryItemID != "" {
		m["primary_item_id"] = t.PrimaryItemID
	}
	if t.CompletedAt != nil {
		m["completed_at"] = *t.CompletedAt
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
