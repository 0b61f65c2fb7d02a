// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profiler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// streamWriteTimeout bounds a single event write to a client.
	streamWriteTimeout = 5 * time.Second

	// streamSendBuffer is the per-client outbound event buffer. A client
	// that falls this far behind is disconnected rather than blocking the
	// selection path.
	streamSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The visualizer front end is served from a different origin in
	// development; selection events carry no sensitive payload.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans selection events out to connected websocket clients.
//
// Events for one selection are delivered per client in publish order
// (clicked before resolved): each client has a single writer goroutine
// draining an ordered channel.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan SelectionEvent
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// PublishSelection broadcasts one selection event to all clients.
//
// Implements SelectionSink. Never blocks: clients whose buffers are full
// are dropped.
func (h *Hub) PublishSelection(ev SelectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("dropping slow selection stream client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeClient upgrades an HTTP request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &streamClient{
		conn: conn,
		send: make(chan SelectionEvent, streamSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	streamClients.Inc()

	go h.writeLoop(c)
	go h.readLoop(c)
	return nil
}

// writeLoop drains the client's event channel in order.
func (h *Hub) writeLoop(c *streamClient) {
	defer func() {
		c.conn.Close()
		streamClients.Dec()
	}()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop discards inbound frames; its only job is detecting disconnects.
func (h *Hub) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// remove unregisters a client if still present and closes its channel.
func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects all clients. The hub cannot be reused afterward.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
