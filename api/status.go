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
	"net/http"
	"strings"
)

// handleUserStatuses reports the online state of the users named in the
// `user_ids` query parameter (comma separated).
func (s *Server) handleUserStatuses(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_ids")
	if raw == "" {
		writeError(w, r, ErrBadRequest)
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": s.presence.Statuses(ids)})
}
