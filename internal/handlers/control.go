package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/services"
	"github.com/akagifreeez/azeroth-sniper/internal/workers"
)

const (
	pingInterval = 50 * time.Second
	readTimeout  = 60 * time.Second
)

// StatusProvider reports the orchestrator status
type StatusProvider interface {
	Status(ctx context.Context) workers.Status
}

// ControlHandler serves the status and stop surface of a running sniper
type ControlHandler struct {
	sniper   StatusProvider
	hub      *services.ProgressHub
	stop     func()
	stopOnce sync.Once
	upgrader websocket.Upgrader
}

// NewControlHandler creates a handler. stop is invoked at most once.
func NewControlHandler(sniper StatusProvider, hub *services.ProgressHub, stop func()) *ControlHandler {
	return &ControlHandler{
		sniper: sniper,
		hub:    hub,
		stop:   stop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter builds the control routes. /stop requires a bearer token when jwtSecret is set.
func NewRouter(h *ControlHandler, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/progress", h.Progress)
	r.Handle("/metrics", promhttp.Handler())

	if jwtSecret != "" {
		r.With(AuthMiddleware(jwtSecret)).Post("/stop", h.Stop)
	} else {
		r.Post("/stop", h.Stop)
	}

	return r
}

// Health reports liveness
func (h *ControlHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Status returns the orchestrator status
// GET /status
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.sniper.Status(r.Context()))
}

// Stop raises the one-shot stop signal
// POST /stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	first := false
	h.stopOnce.Do(func() {
		first = true
		operator, _ := GetOperatorFromContext(r.Context())
		log.Info().Str("operator", operator).Msg("Stop requested via control endpoint")
		h.stop()
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stopping":  true,
		"requested": first,
	})
}

// Progress streams progress events over a websocket
// GET /progress
func (h *ControlHandler) Progress(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Progress websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	log.Debug().Str("subscriber", id).Msg("Progress subscriber connected")

	// Late joiners see where the engine is right away
	if last, ok := h.hub.Last(); ok {
		if err := conn.WriteJSON(last); err != nil {
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// Reader: only needed to process control frames and notice the client leaving
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("subscriber", id).Msg("Progress subscriber write failed")
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
