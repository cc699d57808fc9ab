package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/extensions"
	"github.com/mtappler/focusgate/internal/host"
	"github.com/mtappler/focusgate/internal/settings"
	"github.com/mtappler/focusgate/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, settings.ErrInvalid), errors.Is(err, extensions.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", settings.ErrInvalid)
	}
	return nil
}

// handleEvent receives one host event from the browser client.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev host.Event
	if err := decode(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	if err := s.dispatcher.Dispatch(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTabs stores the client's open-tab snapshot.
func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tabs []enforce.Tab `json:"tabs"`
	}
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	s.queue.UpdateTabs(payload.Tabs)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCommands drains pending tab commands for the client.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	commands := s.queue.Drain()
	if commands == nil {
		commands = []Command{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": commands})
}

// handleBroadcasts streams bus events as server-sent events.
func (s *Server) handleBroadcasts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case broadcast, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(broadcast)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", broadcast.Event, payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.settings.ListSites(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var in settings.SiteInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	site, err := s.settings.AddSite(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.settings.GetSite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	var in settings.SiteInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	site, err := s.settings.UpdateSite(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DeleteSite(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.settings.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var in settings.GroupInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	group, err := s.settings.AddGroup(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.settings.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var in settings.GroupInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	group, err := s.settings.UpdateGroup(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DeleteGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.settings.GetPreferences(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs storage.Preferences
	if err := decode(r, &prefs); err != nil {
		writeError(w, err)
		return
	}
	if err := s.settings.UpdatePreferences(r.Context(), prefs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := s.extensions.Today(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exts)
}

func (s *Server) handleGrantExtension(w http.ResponseWriter, r *http.Request) {
	var req extensions.Request
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ext, err := s.extensions.Grant(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ext)
}

// handleUsage returns today's usage document.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = storage.DateKey(time.Now())
	}
	if !storage.ValidDateKey(date) {
		writeError(w, fmt.Errorf("%w: invalid date %q", settings.ErrInvalid, date))
		return
	}
	usage, err := s.store.Usage().Day(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"date": date, "usage": usage})
}

// handleStatus reports the current tracking session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Info())
}

// handleCheck evaluates a URL without side effects, for the popup UI
// and debugging.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, fmt.Errorf("%w: url query parameter is required", settings.ErrInvalid))
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Evaluate(r.Context(), rawURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
