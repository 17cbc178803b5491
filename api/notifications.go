// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	limit, offset := pageParams(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"
	items, err := s.notifier.List(r.Context(), uid, unreadOnly, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifier.CountUnread(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.notifier.Read(r.Context(), ps.ByName("id"), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifier.ReadAll(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"read": n})
}

// handleSSE streams live events addressed to the caller as server-sent
// events. Slow consumers lose frames; the persisted inbox remains the
// source of truth.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}
	uid := userFrom(r.Context())
	sub := s.notifier.Feed().Subscribe(0)
	defer sub.Unsubscribe()

	guard := s.presence.Connect(uid)
	defer guard.Release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Chan():
			if !ok {
				return
			}
			if !ev.For(uid) {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, payload)
			flusher.Flush()
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket streams the same live events over a websocket.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer conn.Close()

	sub := s.notifier.Feed().Subscribe(0)
	defer sub.Unsubscribe()

	guard := s.presence.Connect(uid)
	defer guard.Release()

	// Reader goroutine: surfaces the peer closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case ev, ok := <-sub.Chan():
			if !ok {
				return
			}
			if !ev.For(uid) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
