package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dealwatch/internal/domain"
	"dealwatch/internal/jsonview"
	"dealwatch/internal/storage"
)

const maxChangeLimit = 1000

type addWatchRequest struct {
	Name string `json:"name"`
}

// GET /api/watch
func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches, err := s.stores.Registry.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromWatches(watches))
}

// GET /api/watch/{id}
func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	watch, err := s.stores.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromWatch(watch))
}

// PUT /api/watch/{id} starts watching an entity. Idempotent.
func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "entity id required")
		return
	}

	var req addWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.stores.Registry.Add(r.Context(), id, req.Name, s.now().UTC()); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	watch, err := s.stores.Registry.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromWatch(watch))
}

// DELETE /api/watch/{id} stops watching an entity. History is kept.
func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.stores.Registry.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/entities/{id}/snapshot
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stores.Snapshots.GetLatestSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromSnapshot(snap))
}

// GET /api/entities/{id}/snapshots
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.stores.Snapshots.ListSnapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromSnapshots(snaps))
}

// GET /api/entities/{id}/snapshots/{version}
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || version < 0 {
		writeError(w, http.StatusBadRequest, "version must be a non-negative integer")
		return
	}
	snap, err := s.stores.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromSnapshot(snap))
}

// GET /api/entities/{id}/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.stores.Events.ListTerminalEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromTerminalEvents(events))
}

// GET /api/changes?entity=&since=&kind=&limit=
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	filter, err := parseChangeFilter(r, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := s.stores.Changes.ListChanges(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonview.FromChanges(changes))
}

type kindCount struct {
	Kind  domain.ChangeKind `json:"kind"`
	Count uint64            `json:"count"`
}

// GET /api/stats/changes?since=
func (s *Server) handleChangeStats(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.stats.CountByKind(r.Context(), since)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	out := make([]kindCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, kindCount{Kind: c.Kind, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseChangeFilter(r *http.Request, now time.Time) (storage.ChangeFilter, error) {
	q := r.URL.Query()
	filter := storage.ChangeFilter{EntityID: q.Get("entity")}

	since, err := parseSince(q.Get("since"), now)
	if err != nil {
		return filter, err
	}
	filter.Since = since

	if k := q.Get("kind"); k != "" {
		kind := domain.ChangeKind(strings.ToUpper(k))
		if !kind.IsValid() {
			return filter, errors.New("unknown kind " + k)
		}
		filter.Kind = kind
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = min(n, maxChangeLimit)
	}
	return filter, nil
}

// parseSince accepts RFC 3339 timestamps or a duration relative to now
// ("24h" means the last 24 hours).
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("since must be RFC 3339 or a positive duration")
}
