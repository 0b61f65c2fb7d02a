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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestHub starts an HTTP server around the hub and connects one client.
func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeClient(w, r); err != nil {
			t.Errorf("ServeClient: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients polls until the hub reports n clients or the deadline hits.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DeliversEventsInPublishOrder(t *testing.T) {
	hub := NewHub(testLogger())
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	clicked := SelectionEvent{Type: "clicked", ProfileID: "p1", Thread: 0, Node: 3, Category: "JavaScript"}
	resolved := SelectionEvent{Type: "resolved", ProfileID: "p1", Thread: 0, Node: 2, Category: "JavaScript"}
	hub.PublishSelection(clicked)
	hub.PublishSelection(resolved)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first, second SelectionEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, clicked, first, "clicked event must arrive before resolved")
	assert.Equal(t, resolved, second)
}

func TestHub_FansOutToAllClients(t *testing.T) {
	hub := NewHub(testLogger())
	a := dialTestHub(t, hub)
	b := dialTestHub(t, hub)
	waitForClients(t, hub, 2)

	ev := SelectionEvent{Type: "clicked", ProfileID: "p1", Node: 1, Category: "Other"}
	hub.PublishSelection(ev)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got SelectionEvent
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, ev, got)
	}
}

func TestHub_RemovesDisconnectedClient(t *testing.T) {
	hub := NewHub(testLogger())
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Publishing to an empty hub must not panic or block.
	hub.PublishSelection(SelectionEvent{Type: "clicked"})
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(testLogger())
	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	// The client sees the connection end.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev SelectionEvent
	assert.Error(t, conn.ReadJSON(&ev))
}
