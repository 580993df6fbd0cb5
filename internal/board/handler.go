// Package board event handling: bridges engine task events onto the
// WebSocket broadcast.
package board

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

// Handler receives engine task events and formats them as board
// messages. It implements reconcile.Events.
type Handler struct {
	server *Server
	store  *store.Store
	logger *log.Logger
}

// NewHandler creates an event handler connected to a board server.
func NewHandler(server *Server, st *store.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		store:  st,
		logger: logger,
	}
}

// TaskCreated handles task creation events.
func (h *Handler) TaskCreated(t *task.Task) {
	h.logger.Printf("Task created: %s (%s)", t.ID, t.Title)
	h.broadcastTask(t, "created")
	h.broadcastStats()
}

// TaskUpdated handles task update and transition events.
func (h *Handler) TaskUpdated(t *task.Task) {
	h.logger.Printf("Task updated: %s (%s) status=%s", t.ID, t.Title, t.Status)
	h.broadcastTask(t, "updated")
	h.broadcastStats()
}

func (h *Handler) broadcastTask(t *task.Task, action string) {
	data, err := json.Marshal(TaskUpdateData{
		TaskID:     t.ID,
		Action:     action,
		Status:     string(t.Status),
		Title:      t.Title,
		VehicleID:  t.VehicleID,
		ItemNumber: t.ItemNumber,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal task data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeTaskUpdate,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// broadcastStats recomputes queue statistics from the store. Counting is
// cheap (one grouped query) and keeps the board honest across restarts.
func (h *Handler) broadcastStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := h.store.CountTasksByStatus(ctx)
	if err != nil {
		h.logger.Printf("Failed to count tasks: %v", err)
		return
	}

	stats := StatsData{ByStatus: counts}
	for status, n := range counts {
		stats.Total += n
		if task.Status(status).Active() {
			stats.Active += n
		}
	}

	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	})
}
