// Package api exposes the engine's control surface: a REST API for fleet,
// order, compliance, optimizer, and reporting operations, plus a WebSocket
// stream of telemetry events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/quantfleet/engine/internal/engine"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket control surface.
type Server struct {
	logger     *zap.Logger
	cfg        types.ServerConfig
	engine     *engine.Engine
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewServer wires the router against a built engine.
func NewServer(logger *zap.Logger, eng *engine.Engine) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		cfg:     eng.Config().Server,
		engine:  eng,
		router:  mux.NewRouter(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/bots", s.handleListBots).Methods("GET")
	api.HandleFunc("/bots", s.handleCreateBot).Methods("POST")
	api.HandleFunc("/bots/{id}", s.handleGetBot).Methods("GET")
	api.HandleFunc("/bots/{id}", s.handleUpdateBot).Methods("PATCH")
	api.HandleFunc("/bots/{id}", s.handleDeleteBot).Methods("DELETE")
	api.HandleFunc("/bots/{id}/{verb:start|stop|pause|resume}", s.handleBotLifecycle).Methods("POST")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/open", s.handleOpenOrders).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/compliance/{account}", s.handleComplianceStatus).Methods("GET")

	api.HandleFunc("/optimizer/{bot_id}", s.handleOptimizerStatus).Methods("GET")
	api.HandleFunc("/optimizer/{bot_id}/enable", s.handleOptimizerEnable).Methods("POST")
	api.HandleFunc("/optimizer/{bot_id}/disable", s.handleOptimizerDisable).Methods("POST")

	api.HandleFunc("/reports/fees", s.handleFeesReport).Methods("GET")

	if s.cfg.EnableMetrics {
		s.router.Handle("/metrics", telemetry.MetricsHandler()).Methods("GET")
	}
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Handler returns the fully assembled HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start serves until Stop or a listener error. Blocks the caller.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("api server listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains WebSocket clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// respond writes a JSON body with the given status.
func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// respondError maps the error taxonomy onto HTTP statuses. Internal errors
// are logged in full and surfaced as a generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)

	var status int
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case kind == errs.KindClient:
		status = http.StatusBadRequest
	case kind == errs.KindConstraint:
		status = http.StatusConflict
	case kind == errs.KindExternal, kind == errs.KindTimeout:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.respond(w, status, errorBody{Error: "internal error", Kind: string(errs.KindInternal)})
		return
	}

	s.respond(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

// decode reads a JSON request body, rejecting unknown fields.
func (s *Server) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(err, errs.KindClient, "api", "decode", "invalid request body")
	}
	return nil
}
