// Package server exposes the keep-alive and status HTTP endpoints, the
// Prometheus scrape endpoint and a WebSocket that streams run events and
// accepts operator commands.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chanmirror/internal/bus"
	"chanmirror/internal/domain"
	"chanmirror/internal/mirror"
	"chanmirror/internal/report"
)

// StatusProvider reports the orchestrator's live status.
type StatusProvider interface {
	Status() mirror.Status
}

// Config configures the status server.
type Config struct {
	Host      string
	Port      int
	AuthToken string // required on /status when set; /ws is not served without it
	WebSocket bool
	Metrics   bool
	Status    StatusProvider
	Events    *bus.EventBus
	Logger    *slog.Logger
	Version   string
}

// Server is the HTTP status server. It is also the "websocket" control
// surface: commands sent by WebSocket clients go onto the bus.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	mu      sync.RWMutex
	bus     domain.MessageBus
	clients map[string]*wsClient
	nextID  int
	eventID string
}

type wsClient struct {
	conn *websocket.Conn
	id   string
	mu   sync.Mutex
}

// WSMessage is the JSON protocol spoken on /ws.
type WSMessage struct {
	Type    string         `json:"type"` // "command" | "reply" | "event" | "status"
	Content string         `json:"content,omitempty"`
	ChatID  string         `json:"chat_id,omitempty"`
	Event   *bus.Event     `json:"event,omitempty"`
	Status  *mirror.Status `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients (no Origin header) and pages served
// from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

const replayWindow = 15 * time.Minute

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "server"),
		clients: make(map[string]*wsClient),
	}
}

func (s *Server) Name() string { return "websocket" }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.requireAuth(s.handleStatus))
	if s.cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	switch {
	case s.cfg.WebSocket && s.cfg.AuthToken != "":
		mux.HandleFunc("GET /ws", s.requireAuth(s.handleUpgrade))
	case s.cfg.WebSocket:
		s.logger.Warn("websocket disabled: server.authToken is not set")
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, b domain.MessageBus) error {
	s.attach(b)
	defer s.detach()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("status server starting", "addr", addr, "websocket", s.cfg.WebSocket, "metrics", s.cfg.Metrics)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	}
}

// attach wires the bus for commands and starts forwarding run events.
func (s *Server) attach(b domain.MessageBus) {
	s.mu.Lock()
	s.bus = b
	s.mu.Unlock()

	if b != nil {
		b.OnOutbound(s.Name(), func(msg domain.OutboundMessage) {
			s.sendTo(msg.ChatID, WSMessage{Type: "reply", Content: msg.Content, ChatID: msg.ChatID})
		})
	}
	if s.cfg.Events != nil {
		s.eventID = s.cfg.Events.On("*", func(e bus.Event) {
			s.broadcast(WSMessage{Type: "event", Event: &e})
		})
	}
}

func (s *Server) detach() {
	if s.cfg.Events != nil && s.eventID != "" {
		s.cfg.Events.Off("*", s.eventID)
	}
}

// Stop is a no-op; the server stops when Start's context ends.
func (s *Server) Stop() error { return nil }

// Send delivers a reply to one WebSocket client.
func (s *Server) Send(ctx context.Context, chatID string, content string) error {
	if !s.sendTo(chatID, WSMessage{Type: "reply", Content: content, ChatID: chatID}) {
		return fmt.Errorf("websocket client %s not connected", chatID)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("chanmirror running"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, redact(s.cfg.Status.Status()))
}

// redact drops webhook URLs from the last summary; each URL embeds a token.
func redact(st mirror.Status) mirror.Status {
	if st.Last == nil {
		return st
	}
	last := *st.Last
	last.Webhooks = make([]report.Webhook, len(st.Last.Webhooks))
	for i, w := range st.Last.Webhooks {
		w.URL = ""
		last.Webhooks[i] = w
	}
	st.Last = &last
	return st
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			// Browsers cannot set headers on a WebSocket handshake.
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.nextID++
	client := &wsClient{conn: conn, id: "ws-" + strconv.Itoa(s.nextID)}
	s.clients[client.id] = client
	s.mu.Unlock()

	s.logger.Info("websocket client connected", "client_id", client.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("websocket client disconnected", "client_id", client.id)
	}()

	if s.cfg.Status != nil {
		st := redact(s.cfg.Status.Status())
		client.send(WSMessage{Type: "status", ChatID: client.id, Status: &st})
	}
	if s.cfg.Events != nil {
		for _, e := range s.cfg.Events.Replay("*", time.Now().Add(-replayWindow)) {
			client.send(WSMessage{Type: "event", Event: &e})
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("invalid websocket message", "err", err)
			continue
		}
		if msg.Type != "command" {
			continue
		}

		s.mu.RLock()
		b := s.bus
		s.mu.RUnlock()
		if b == nil {
			client.send(WSMessage{Type: "reply", Content: "commands are not enabled"})
			continue
		}
		b.Publish(domain.InboundMessage{
			Surface:   s.Name(),
			ChatID:    client.id,
			SenderID:  r.RemoteAddr,
			Content:   msg.Content,
			Timestamp: time.Now(),
		})
	}
}

func (s *Server) sendTo(clientID string, msg WSMessage) bool {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	client.send(msg)
	return true
}

func (s *Server) broadcast(msg WSMessage) {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.send(msg)
	}
}

func (c *wsClient) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, client := range s.clients {
		client.conn.Close()
		delete(s.clients, id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
