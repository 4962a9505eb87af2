package httpadapter

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"vigil/internal/domain"
	"vigil/internal/ports"
	"vigil/internal/services/detection"
)

type submitRequest struct {
	Channel   string            `json:"channel"`
	SessionID string            `json:"session_id,omitempty"`
	Sequence  int64             `json:"sequence,omitempty"`
	Text      string            `json:"text"`
	Language  string            `json:"language,omitempty"`
	Region    string            `json:"region,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

type matchPayload struct {
	SignatureID string  `json:"signature_id"`
	Category    string  `json:"category"`
	Kind        string  `json:"kind"`
	Weight      float64 `json:"weight"`
	Points      float64 `json:"points"`
}

type eventPayload struct {
	ID              string         `json:"id"`
	Channel         string         `json:"channel"`
	SessionID       string         `json:"session_id,omitempty"`
	Sequence        int64          `json:"sequence,omitempty"`
	Score           float64        `json:"score"`
	CumulativeScore float64        `json:"cumulative_score"`
	Matches         []matchPayload `json:"matched_signatures"`
	Band            string         `json:"band"`
	Action          string         `json:"action"`
	Recommendation  string         `json:"recommendation"`
	Degraded        bool           `json:"degraded,omitempty"`
	Synthetic       bool           `json:"synthetic,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func toEventPayload(ev *domain.DetectionEvent) eventPayload {
	matches := make([]matchPayload, len(ev.Matches))
	for i, m := range ev.Matches {
		matches[i] = matchPayload{
			SignatureID: m.SignatureID,
			Category:    string(m.Category),
			Kind:        string(m.Kind),
			Weight:      m.Weight,
			Points:      m.Points,
		}
	}
	return eventPayload{
		ID:              ev.ID,
		Channel:         string(ev.Channel),
		SessionID:       ev.SessionID,
		Sequence:        ev.Sequence,
		Score:           ev.Score,
		CumulativeScore: ev.CumulativeScore,
		Matches:         matches,
		Band:            string(ev.Band),
		Action:          string(ev.Action),
		Recommendation:  ev.Recommendation,
		Degraded:        ev.Degraded,
		Synthetic:       ev.Synthetic,
		CreatedAt:       ev.CreatedAt,
	}
}

func (s *Server) handleSubmitContent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	raw := ports.RawContent{
		Channel:   domain.Channel(req.Channel),
		SessionID: req.SessionID,
		Sequence:  req.Sequence,
		Text:      req.Text,
		Language:  req.Language,
		Region:    req.Region,
		Metadata:  req.Metadata,
	}
	if req.Timestamp != nil {
		raw.Timestamp = *req.Timestamp
	}

	ev, err := s.detector.Submit(r.Context(), raw)
	if err != nil {
		var closedErr *domain.SessionClosedError
		var gapErr *domain.SequenceGapError
		switch {
		case errors.As(err, &closedErr):
			writeError(w, http.StatusConflict, "session_closed", err.Error())
		case errors.As(err, &gapErr):
			// the unit is buffered; the gap either resolves or is filled
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status":   "buffered",
				"expected": gapErr.Expected,
				"got":      gapErr.Got,
			})
		case errors.Is(err, detection.ErrInvalidChannel), errors.Is(err, detection.ErrInvalidSequence):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			s.log.Error("submit content failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "scoring failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toEventPayload(ev))
}

type sessionPayload struct {
	ID              string         `json:"id"`
	Channel         string         `json:"channel"`
	State           string         `json:"state"`
	CumulativeScore float64        `json:"cumulative_score"`
	Band            string         `json:"band"`
	MaxBand         string         `json:"max_band"`
	OpenedAt        time.Time      `json:"opened_at"`
	LastSeenAt      time.Time      `json:"last_seen_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	History         []eventPayload `json:"history"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, history, err := s.detector.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, detection.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}
		s.log.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "session lookup failed")
		return
	}
	events := make([]eventPayload, len(history))
	for i := range history {
		events[i] = toEventPayload(&history[i])
	}
	writeJSON(w, http.StatusOK, sessionPayload{
		ID:              sess.ID,
		Channel:         string(sess.Channel),
		State:           string(sess.State),
		CumulativeScore: sess.CumulativeScore,
		Band:            string(sess.CurrentBand),
		MaxBand:         string(sess.MaxBand),
		OpenedAt:        sess.OpenedAt,
		LastSeenAt:      sess.LastSeenAt,
		ClosedAt:        sess.ClosedAt,
		History:         events,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.detector.CloseSession(r.Context(), id); err != nil {
		var closedErr *domain.SessionClosedError
		if errors.As(err, &closedErr) {
			writeError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}
		s.log.Error("close session failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "close failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type signatureRequest struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Kind     string  `json:"match_kind"`
	Pattern  string  `json:"pattern"`
	Language string  `json:"language,omitempty"`
	Region   string  `json:"region,omitempty"`
	Weight   float64 `json:"weight"`
	Active   *bool   `json:"active,omitempty"`
}

type signaturePayload struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Kind      string    `json:"match_kind"`
	Pattern   string    `json:"pattern"`
	Language  string    `json:"language,omitempty"`
	Region    string    `json:"region,omitempty"`
	Weight    float64   `json:"weight"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSignaturePayload(sig domain.Signature) signaturePayload {
	return signaturePayload{
		ID:        sig.ID,
		Category:  string(sig.Category),
		Kind:      string(sig.Kind),
		Pattern:   sig.Pattern,
		Language:  sig.Language,
		Region:    sig.Region,
		Weight:    sig.Weight,
		Active:    sig.Active,
		CreatedAt: sig.CreatedAt,
		UpdatedAt: sig.UpdatedAt,
	}
}

func (s *Server) handleUpsertSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	weight := req.Weight
	if weight == 0 {
		weight = 1.0
	}
	sig, err := s.admin.Upsert(r.Context(), domain.Signature{
		ID:       req.ID,
		Category: domain.Category(req.Category),
		Kind:     domain.MatchKind(req.Kind),
		Pattern:  req.Pattern,
		Language: req.Language,
		Region:   req.Region,
		Weight:   weight,
		Active:   active,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
			return
		}
		s.log.Error("upsert signature failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, toSignaturePayload(sig))
}

func (s *Server) handleDeactivateSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.admin.Deactivate(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown signature")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.SignatureFilter{
		Category: domain.Category(q.Get("category")),
		Language: q.Get("language"),
		Region:   q.Get("region"),
	}
	if v := q.Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}
	sigs, err := s.admin.List(r.Context(), filter)
	if err != nil {
		s.log.Error("list signatures failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	out := make([]signaturePayload, len(sigs))
	for i, sig := range sigs {
		out[i] = toSignaturePayload(sig)
	}
	writeJSON(w, http.StatusOK, map[string]any{"signatures": out})
}

func (s *Server) handleReloadRegistry(w http.ResponseWriter, r *http.Request) {
	version, quarantined, err := s.admin.Reload(r.Context())
	if err != nil {
		s.log.Error("registry reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "quarantined": quarantined})
}

type signatureStatPayload struct {
	SignatureID     string    `json:"signature_id"`
	OccurrenceCount int64     `json:"occurrence_count"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

func (s *Server) handleSignatureStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.SignatureStats(r.Context())
	if err != nil {
		s.log.Error("signature stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "stats failed")
		return
	}
	out := make([]signatureStatPayload, len(stats))
	for i, st := range stats {
		out[i] = signatureStatPayload{
			SignatureID:     st.SignatureID,
			OccurrenceCount: st.OccurrenceCount,
			LastSeenAt:      st.LastSeenAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signatures": out})
}

type channelStatPayload struct {
	Channel      string     `json:"channel"`
	Scored       int64      `json:"scored"`
	Threats      int64      `json:"threats"`
	Blocks       int64      `json:"blocks"`
	LastScoredAt time.Time  `json:"last_scored_at"`
	LastThreatAt *time.Time `json:"last_threat_at,omitempty"`
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.ChannelStats(r.Context())
	if err != nil {
		s.log.Error("channel stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "stats failed")
		return
	}
	out := make([]channelStatPayload, len(stats))
	for i, st := range stats {
		out[i] = channelStatPayload{
			Channel:      string(st.Channel),
			Scored:       st.Scored,
			Threats:      st.Threats,
			Blocks:       st.Blocks,
			LastScoredAt: st.LastScoredAt,
			LastThreatAt: st.LastThreatAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (s *Server) handleBandDistribution(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "to must be RFC3339")
			return
		}
		to = t
	}
	dist, err := s.stats.BandDistribution(r.Context(), from, to)
	if err != nil {
		s.log.Error("band distribution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bands": dist})
}
