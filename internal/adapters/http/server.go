// Package httpadapter exposes the engine to channel, ops and reporting
// collaborators over HTTP.
package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"vigil/internal/ports"
)

type Server struct {
	detector ports.Detector
	admin    ports.RegistryAdmin
	stats    ports.StatisticsReader
	hub      *Hub
	log      *zap.Logger
}

func New(detector ports.Detector, admin ports.RegistryAdmin, stats ports.StatisticsReader, hub *Hub, log *zap.Logger) *Server {
	return &Server{detector: detector, admin: admin, stats: stats, hub: hub, log: log}
}

// Routes mounts every endpoint.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/content", s.handleSubmitContent)

		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/close", s.handleCloseSession)

		r.Post("/signatures", s.handleUpsertSignature)
		r.Delete("/signatures/{id}", s.handleDeactivateSignature)
		r.Get("/signatures", s.handleListSignatures)
		r.Post("/registry/reload", s.handleReloadRegistry)

		r.Get("/stats/signatures", s.handleSignatureStats)
		r.Get("/stats/channels", s.handleChannelStats)
		r.Get("/stats/bands", s.handleBandDistribution)

		r.Get("/alerts/stream", s.handleAlertStream)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": msg})
}
