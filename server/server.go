package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/internal/types"
	"github.com/xhad/danfe/pkg/keys"
	"github.com/xhad/danfe/pkg/report"
)

// ErrBatchRunning is returned when a batch is submitted while another one is
// still in progress.
var ErrBatchRunning = errors.New("a batch is already running")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BatchRunner is the application entry point the server drives.
type BatchRunner interface {
	Request(keys []models.DocumentKey) models.BatchRequest
	Run(ctx context.Context, req models.BatchRequest, reporter types.Reporter) (models.BatchResult, string, error)
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type BatchRequest struct {
	Keys           []string `json:"keys"`
	Text           string   `json:"text"`
	FetchSecondary *bool    `json:"fetch_secondary,omitempty"`
}

type OutcomeView struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastStatus string `json:"last_status"`
	Primary    bool   `json:"primary"`
	Secondary  bool   `json:"secondary"`
}

type Summary struct {
	ID        string        `json:"id"`
	Archive   string        `json:"archive,omitempty"`
	Cancelled bool          `json:"cancelled"`
	Outcomes  []OutcomeView `json:"outcomes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server runs one batch at a time and streams its progress to every
// connected websocket client.
type Server struct {
	runner BatchRunner
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	cancelBatch context.CancelFunc
	last        *Summary

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

func New(runner BatchRunner, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/current", s.handleCurrent)
		r.Delete("/current", s.handleCancel)
	})
	return r
}

// Start launches a batch in the background.
func (s *Server) Start(documentKeys []models.DocumentKey, fetchSecondary *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrBatchRunning
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	req := s.runner.Request(documentKeys)
	if fetchSecondary != nil {
		req.FetchSecondary = *fetchSecondary
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.running = true
	s.cancelBatch = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runBatch(ctx, req)
	}()
	return nil
}

// Cancel stops the running batch after its current key. It reports whether
// a batch was running.
func (s *Server) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.cancelBatch()
	return true
}

// Close cancels any running batch and waits for it to stop, which happens
// once the key in progress is finished.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func (s *Server) runBatch(ctx context.Context, req models.BatchRequest) {
	events := report.NewChannel(256)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for ev := range events.Events() {
			if ev.Outcome != nil {
				s.broadcast(Message{Type: "outcome", Content: string(ev.Outcome.Status), Data: view(*ev.Outcome)})
				continue
			}
			s.broadcast(Message{Type: "progress", Content: strings.TrimSpace(ev.Line)})
		}
	}()

	s.log.Info("batch started", slog.Int("keys", len(req.Keys)))
	result, archive, err := s.runner.Run(ctx, req, events)

	events.Close()
	<-pumped
	if n := events.Dropped(); n > 0 {
		s.log.Warn("progress events dropped", slog.Int64("count", n))
	}

	summary := summarize(result, archive)
	s.mu.Lock()
	s.running = false
	s.last = &summary
	s.mu.Unlock()

	if err != nil {
		s.log.Error("batch aborted", slog.String("batch", result.ID), slog.Any("err", err))
		s.broadcast(Message{Type: "error", Content: err.Error(), Data: summary})
		return
	}
	s.log.Info("batch finished", slog.String("batch", result.ID), slog.Bool("cancelled", result.Cancelled))
	s.broadcast(Message{Type: "done", Content: fmt.Sprintf("%d of %d ready", result.Count(models.StatusReady), len(result.Outcomes)), Data: summary})
}

func (s *Server) broadcast(msg Message) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &client{conn: conn, send: make(chan Message, 64)}
	c.send <- s.statusMessage()

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	go c.writeLoop()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.clientsMu.Unlock()
	conn.Close()
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *Server) statusMessage() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return Message{Type: "status", Content: "running"}
	}
	msg := Message{Type: "status", Content: "idle"}
	if s.last != nil {
		msg.Data = *s.last
	}
	return msg
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	documentKeys := keys.Filter(append(body.Keys, strings.Split(body.Text, "\n")...))
	if len(documentKeys) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no valid access keys"})
		return
	}

	if err := s.Start(documentKeys, body.FetchSecondary); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrBatchRunning) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"keys": len(documentKeys)})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusMessage())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.Cancel() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no batch running"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func summarize(result models.BatchResult, archive string) Summary {
	summary := Summary{
		ID:        result.ID,
		Archive:   archive,
		Cancelled: result.Cancelled,
		Outcomes:  make([]OutcomeView, len(result.Outcomes)),
	}
	for i, o := range result.Outcomes {
		summary.Outcomes[i] = view(o)
	}
	return summary
}

func view(o models.Outcome) OutcomeView {
	return OutcomeView{
		Key:        o.Key.String(),
		Status:     string(o.Status),
		Attempts:   o.Attempts,
		LastStatus: o.LastStatus,
		Primary:    o.HasPrimary(),
		Secondary:  o.HasSecondary(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
