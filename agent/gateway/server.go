package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/order"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

type Config struct {
	Addr            string        `default:":8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	AllowedOrigins  []string      `split_words:"true"`
}

// Assistant is the session loop as seen by the HTTP surface.
type Assistant interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (string, error)
	Reset(ctx context.Context, sessionID string) error
	Transcript(ctx context.Context, sessionID string) ([]statex.Message, error)
	Orders(ctx context.Context, sessionID string) ([]order.Order, error)
}

// maxRequestBytes bounds a chat request body and a websocket frame.
const maxRequestBytes = 1 << 20

var _ Assistant = (*orchestrator.Orchestrator)(nil)

type ChatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

type ChatResponse struct {
	Output    string `json:"output,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type TranscriptResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []statex.Message `json:"messages"`
}

type OrdersResponse struct {
	SessionID string        `json:"session_id"`
	Orders    []order.Order `json:"orders"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type Server struct {
	cfg       Config
	assistant Assistant
	router    *mux.Router
	upgrader  websocket.Upgrader

	newSessionID func() string
}

func New(cfg Config, assistant Assistant) *Server {
	s := &Server{
		cfg:          cfg,
		assistant:    assistant,
		newSessionID: uuid.NewString,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/transcript", s.handleTranscript).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/orders", s.handleOrders).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleReset).Methods(http.MethodDelete)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway listen: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	log.Info().Msg("gateway stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ChatResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: "invalid request body"})
		return
	}

	resp, status := s.chat(r.Context(), req)
	writeJSON(w, status, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	msgs, err := s.assistant.Transcript(r.Context(), sessionID)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, ChatResponse{SessionID: sessionID, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{SessionID: sessionID, Messages: msgs})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	orders, err := s.assistant.Orders(r.Context(), sessionID)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, ChatResponse{SessionID: sessionID, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, OrdersResponse{SessionID: sessionID, Orders: orders})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := s.assistant.Reset(r.Context(), sessionID); err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, ChatResponse{SessionID: sessionID, Error: msg})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket runs one chat turn per inbound {input} frame. The session
// comes from the session_id query parameter or is generated per connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = s.newSessionID()
	}

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket read ended")
			}
			return
		}
		req.SessionID = sessionID

		resp, _ := s.chat(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket write failed")
			return
		}
	}
}

func (s *Server) chat(ctx context.Context, req ChatRequest) (ChatResponse, int) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.newSessionID()
	}

	reply, err := s.assistant.HandleMessage(ctx, sessionID, req.Input)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("session_id", sessionID).Msg("chat turn failed")
		}
		return ChatResponse{SessionID: sessionID, Error: msg}, status
	}
	return ChatResponse{Output: reply, SessionID: sessionID}, http.StatusOK
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidMessage), errors.Is(err, orchestrator.ErrInvalidSession):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// checkOrigin allows same-host requests, requests without an Origin header
// and any origin listed in allowed ("*" allows all).
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host
	}
}
