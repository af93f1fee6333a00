// Package web exposes the chat service over HTTP: an SSE chat endpoint, a
// websocket session transport, and Prometheus metrics.
package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conduit/internal/convstore"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/transport"
	"github.com/haasonsaas/conduit/pkg/models"
)

// DefaultWelcome greets a brand-new chat.
const DefaultWelcome = "Hi! I can look up products, update them and adjust inventory. What do you need?"

// Config tunes the HTTP surface.
type Config struct {
	// CookieSecret signs the chat correlator cookie. Required.
	CookieSecret string

	// Welcome is the assistant greeting for new chats. Empty selects
	// DefaultWelcome.
	Welcome string
}

// Server handles the chat HTTP surface.
type Server struct {
	orch     *orchestrator.Orchestrator
	store    *convstore.Conversations
	sessions *transport.Registry
	logger   *slog.Logger
	secret   []byte
	welcome  string
	upgrader websocket.Upgrader
}

// NewServer wires the HTTP surface. The cookie secret must be non-empty.
func NewServer(
	orch *orchestrator.Orchestrator,
	store *convstore.Conversations,
	sessions *transport.Registry,
	logger *slog.Logger,
	cfg Config,
) (*Server, error) {
	if cfg.CookieSecret == "" {
		return nil, errors.New("web: cookie secret required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	welcome := cfg.Welcome
	if welcome == "" {
		welcome = DefaultWelcome
	}
	return &Server{
		orch:     orch,
		store:    store,
		sessions: sessions,
		logger:   logger.With("component", "web"),
		secret:   []byte(cfg.CookieSecret),
		welcome:  welcome,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}, nil
}

// Routes assembles the handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/session", s.handleSession)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s.logRequests(mux)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleChatPost(w, r)
	case http.MethodGet:
		s.handleChatGet(w, r)
	case http.MethodDelete:
		s.handleChatDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type chatPostBody struct {
	ID       string            `json:"id,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	var body chatPostBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	userMessage := lastUserMessage(body.Messages)
	if userMessage == "" {
		http.Error(w, "no user message in request", http.StatusBadRequest)
		return
	}

	chatID := body.ID
	if chatID == "" {
		chatID, _ = readCorrelator(r, s.secret)
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}

	// Correlator refreshes on every call; it must go out before the
	// stream starts writing the body.
	if err := setCorrelator(w, s.secret, chatID); err != nil {
		s.logger.Error("failed to issue correlator", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chunks, err := s.orch.Stream(r.Context(), orchestrator.Request{
		ConversationID: chatID,
		UserMessage:    userMessage,
	})
	if err != nil {
		s.logger.Error("failed to start turn", "error", err, "chat_id", chatID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		frame := chunk
		if chunk.Err != nil {
			// Chunk.Err does not marshal; surface it as a terminal frame.
			writeFrame(w, flusher, map[string]string{"type": "error", "error": chunk.Err.Error()})
			continue
		}
		writeFrame(w, flusher, frame)
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

type chatGetResponse struct {
	Chats         []string          `json:"chats"`
	CurrentChatID string            `json:"currentChatId"`
	Messages      []*models.Message `json:"messages"`
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chatID, err := readCorrelator(r, s.secret)
	fresh := err != nil
	if fresh {
		chatID = uuid.NewString()
	}

	conv, err := s.store.Load(ctx, chatID)
	if errors.Is(err, convstore.ErrNotFound) {
		conv = &models.Conversation{ID: chatID, Messages: []*models.Message{{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   s.welcome,
			CreatedAt: time.Now(),
		}}}
		if err := s.store.Save(ctx, conv); err != nil {
			s.logger.Error("failed to save welcome conversation", "error", err, "chat_id", chatID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	} else if err != nil {
		s.logger.Error("failed to load conversation", "error", err, "chat_id", chatID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	chats, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list conversations", "error", err)
		chats = []string{chatID}
	}

	if err := setCorrelator(w, s.secret, chatID); err != nil {
		s.logger.Error("failed to issue correlator", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatGetResponse{
		Chats:         chats,
		CurrentChatID: chatID,
		Messages:      conv.Messages,
	})
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	clearCorrelator(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession upgrades to a websocket and binds it as the streaming tool
// transport for the given session id.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session query parameter required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	handle, err := s.sessions.Acquire(r.Context(), sessionID, transport.NewWebSocketConn(ws))
	if err != nil {
		s.logger.Warn("session acquire failed", "error", err, "session_id", sessionID)
		_ = ws.Close()
		return
	}
	defer handle.Release()

	// Read until the peer goes away. Inbound payloads are structured
	// messages from the tool transport; they are logged, not interpreted.
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("session read ended", "error", err, "session_id", sessionID)
			}
			return
		}
		s.logger.Debug("session message received", "session_id", sessionID, "bytes", len(payload))
	}
}

func lastUserMessage(messages []*models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
