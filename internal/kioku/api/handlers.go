package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/orchestrator"
	"github.com/bdobrica/Kioku/internal/kioku/session"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildTime      string    `json:"build_time"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSecs     float64   `json:"uptime_seconds"`
	StorageBackend string    `json:"storage_backend"`
	Characters     int       `json:"characters"`
	KnowledgeItems int       `json:"knowledge_items"`
	CachedSessions int       `json:"cached_sessions"`
}

type createSessionRequest struct {
	UserID      string  `json:"user_id"`
	CharacterID string  `json:"character_id"`
	PersonaID   *string `json:"persona_id"`
}

type turnRequest struct {
	Content string `json:"content"`
}

type characterSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	KnowledgeItems int    `json:"knowledge_items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         "ok",
		Version:        version.Version,
		Commit:         version.GitCommit,
		BuildTime:      version.BuildTime,
		StartedAt:      s.startedAt,
		UptimeSecs:     time.Since(s.startedAt).Seconds(),
		StorageBackend: s.cfg.StorageBackend,
		Characters:     len(s.chars.IDs()),
		KnowledgeItems: s.index.Len(),
		CachedSessions: s.cache.Len(),
	})
}

// --- sessions ---------------------------------------------------------------

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.CharacterID) == "" {
		badRequest(w, r, "user_id and character_id are required")
		return
	}
	sess, err := s.conv.StartSession(r.Context(), req.UserID, req.CharacterID, req.PersonaID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	characterID := r.URL.Query().Get("character_id")
	if userID == "" || characterID == "" {
		badRequest(w, r, "user_id and character_id query parameters are required")
		return
	}
	list, err := s.conv.ListSessions(r.Context(), userID, characterID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	sess, err := s.conv.LoadSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.conv.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	sess, err := s.conv.ResumeSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if !s.limiter.Allow(userID) {
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter()))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many messages, slow down", TraceID: traceID(r)})
		return
	}
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.conv.HandleTurn(r.Context(), orchestrator.TurnRequest{
		SessionID: chi.URLParam(r, "sessionID"),
		UserID:    userID,
		Content:   req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSessionCache exposes the session's topic cache for inspection.
func (s *Server) handleSessionCache(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.conv.LoadSession(r.Context(), sessionID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, found := s.cache.Snapshot(sessionID)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no cached knowledge for this session", TraceID: traceID(r)})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- characters and knowledge -----------------------------------------------

func (s *Server) handleListCharacters(w http.ResponseWriter, _ *http.Request) {
	out := []characterSummary{}
	for _, id := range s.chars.IDs() {
		c, err := s.chars.Get(id)
		if err != nil {
			continue
		}
		out = append(out, characterSummary{ID: c.ID, Name: c.Name, KnowledgeItems: len(s.index.Items(id))})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")
	if _, err := s.chars.Get(characterID); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var items []knowledge.Item
	if q == "" {
		items = s.index.Items(characterID)
		if len(items) > limit {
			items = items[:limit]
		}
	} else {
		items = s.index.Search(q, characterID, limit)
	}
	if items == nil {
		items = []knowledge.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")
	if _, err := s.chars.Get(characterID); err != nil {
		s.writeError(w, r, err)
		return
	}

	var item knowledge.Item
	if !decode(w, r, &item) {
		return
	}
	if item.CharacterID != "" && item.CharacterID != characterID {
		badRequest(w, r, "character_id in body does not match the path")
		return
	}
	item.CharacterID = characterID

	added, err := s.index.Add(item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.knowledge != nil {
		if err := s.knowledge.SaveKnowledgeItem(r.Context(), added); err != nil {
			// The item stays searchable until restart.
			s.log(r).Error("knowledge item indexed but not persisted",
				"character_id", characterID,
				"item_id", added.ID,
				"err", err,
			)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "item indexed but not persisted", TraceID: traceID(r)})
			return
		}
	}
	s.log(r).Info("knowledge item added", "character_id", characterID, "item_id", added.ID)
	writeJSON(w, http.StatusCreated, added)
}

// --- helpers ----------------------------------------------------------------

func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		badRequest(w, r, UserHeader+" header is required")
		return "", false
	}
	return userID, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, r, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
