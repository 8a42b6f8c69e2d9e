package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"}, // TODO: restrict to the deployed frontend origin
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/", s.helloHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/websocket", s.websocketHandler)

	return r
}

func (s *Server) helloHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Mystery Mansion server"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "up", "database": "disabled"}
	if s.db != nil {
		health = s.db.Health()
	}

	resp, err := json.Marshal(health)
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}
