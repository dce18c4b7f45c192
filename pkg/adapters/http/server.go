package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/calltrace"
	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/internal/presentation/graph"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/go-chi/chi/v5"
)

// ThreadService is the subset of threads.Manager the server needs.
type ThreadService interface {
	List() []string
	RunState(id string, stack domain.CallStack) (domain.RunState, error)
	Snapshot(id string) (domain.Snapshot, error)
	Subscribe(ctx context.Context, id string, opens <-chan domain.CallStack) (*trace.Subscription, error)
}

// Server serves run state queries and SSE update streams.
type Server struct {
	Threads ThreadService
	Streams *StreamManager
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates a new HTTP handler for the thread service.
func NewHandler(threads ThreadService, opts ...Option) http.Handler {
	server := &Server{
		Threads: threads,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.Streams = NewStreamManager(server.logger)

	r := chi.NewRouter()
	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Route("/threads", func(r chi.Router) {
		r.Get("/", server.ListThreads)
		r.Route("/{thread}", func(r chi.Router) {
			r.Get("/state", server.GetRunState)
			r.Get("/history", server.GetHistory)
			r.Get("/graph", server.GetGraph)
			r.Get("/events", server.SubscribeEvents)
			r.Post("/subscriptions/{subscription}/open", server.OpenNode)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "calltrace-http",
		"version": strings.TrimSpace(calltrace.Version),
	})
}

// ListThreads handles the GET /threads request.
func (s *Server) ListThreads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"threads": s.Threads.List()})
}

// GetRunState handles the GET /threads/{thread}/state?stack= request.
func (s *Server) GetRunState(w http.ResponseWriter, r *http.Request) {
	thread := chi.URLParam(r, "thread")

	stack, err := domain.ParseCallStack(r.URL.Query().Get("stack"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	state, err := s.Threads.RunState(thread, stack)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, domain.Entry{Stack: stack, State: state})
}

// GetHistory handles the GET /threads/{thread}/history request.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Threads.Snapshot(chi.URLParam(r, "thread"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// GetGraph handles the GET /threads/{thread}/graph request (Mermaid flowchart).
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Threads.Snapshot(chi.URLParam(r, "thread"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.mermaid; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, graph.GenerateMermaid(snap))
}

type openRequest struct {
	Stack string `json:"stack"`
}

// OpenNode handles the POST /threads/{thread}/subscriptions/{subscription}/open request.
func (s *Server) OpenNode(w http.ResponseWriter, r *http.Request) {
	var body openRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("OpenNode: Invalid request body", "err", err)
		return
	}

	stack, err := domain.ParseCallStack(body.Stack)
	if err != nil {
		s.writeError(w, err)
		return
	}

	err = s.Streams.Open(r.Context(), chi.URLParam(r, "thread"), chi.URLParam(r, "subscription"), stack)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles the GET /threads/{thread}/events request (SSE).
// Every "open" query parameter is opened right away; more nodes can be opened
// later through OpenNode with the id sent in the "subscribed" event.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	thread := chi.URLParam(r, "thread")

	var initial []domain.CallStack
	for _, raw := range r.URL.Query()["open"] {
		stack, err := domain.ParseCallStack(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		initial = append(initial, stack)
	}

	ctx := r.Context()
	opens := make(chan domain.CallStack, len(initial))
	for _, stack := range initial {
		opens <- stack
	}

	sub, err := s.Threads.Subscribe(ctx, thread, opens)
	if err != nil {
		s.writeError(w, err)
		return
	}

	unregister := s.Streams.Register(sub.ID(), thread, opens)
	defer unregister()

	s.logger.Info("SSE: Observer subscribed", "thread", thread, "subscription_id", sub.ID(), "opened", len(initial))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	hello, _ := json.Marshal(map[string]string{"subscription_id": sub.ID()})
	fmt.Fprintf(w, "event: subscribed\ndata: %s\n\n", hello)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE: Client disconnected", "thread", thread, "subscription_id", sub.ID())
			return
		case u, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					msg, _ := json.Marshal(map[string]string{"error": err.Error()})
					fmt.Fprintf(w, "event: interrupted\ndata: %s\n\n", msg)
					flusher.Flush()
					s.logger.Warn("SSE: Stream interrupted", "thread", thread, "subscription_id", sub.ID(), "err", err)
				}
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				s.logger.Error("SSE: Update encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrThreadNotFound), errors.Is(err, ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStack):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTracerClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
