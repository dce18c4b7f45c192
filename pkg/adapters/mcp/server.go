package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/calltrace"
	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const threadsURI = "calltrace://threads"

// ThreadListResponse is the result of list_threads and the threads resource.
type ThreadListResponse struct {
	Threads []string `json:"threads" jsonschema_description:"IDs of the traced threads"`
}

// RunStateResponse is the result of run_state.
type RunStateResponse struct {
	Thread string `json:"thread" jsonschema_description:"The queried thread"`
	Stack  string `json:"stack" jsonschema_description:"The queried call stack in text form"`
	State  string `json:"state" jsonschema_description:"not_run, running, successful, failed or predicate_successful(true|false)"`
}

// EntryView is one finished node in text form.
type EntryView struct {
	Stack string `json:"stack"`
	State string `json:"state"`
}

// HistoryResponse is the result of history.
type HistoryResponse struct {
	Thread  string      `json:"thread"`
	Seq     uint64      `json:"seq" jsonschema_description:"Sequence number of the last update"`
	Current string      `json:"current" jsonschema_description:"The live call stack"`
	History []EntryView `json:"history" jsonschema_description:"Finished nodes in history order"`
}

// ThreadService is the subset of threads.Manager the server needs.
type ThreadService interface {
	List() []string
	RunState(id string, stack domain.CallStack) (domain.RunState, error)
	Snapshot(id string) (domain.Snapshot, error)
}

// Server exposes traced threads as an MCP Server.
type Server struct {
	threads   ThreadService
	mcpServer *server.MCPServer
	logger    *slog.Logger
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

// NewServer creates a new MCP Server instance.
func NewServer(threads ThreadService, opts ...Option) *Server {
	s := &Server{
		threads:   threads,
		mcpServer: server.NewMCPServer("calltrace-mcp", strings.TrimSpace(calltrace.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: list_threads
	listTool := mcp.NewTool("list_threads",
		mcp.WithDescription("List the IDs of the traced threads."),
		mcp.WithOutputSchema[ThreadListResponse](),
	)
	s.mcpServer.AddTool(listTool, mcp.NewStructuredToolHandler(s.handleListThreads))

	// TOOL: run_state
	runStateTool := mcp.NewTool("run_state",
		mcp.WithDescription("Get the run state of a position in a thread. Positions that never ran are not_run."),
		mcp.WithString("thread", mcp.Required(), mcp.Description("Thread ID")),
		mcp.WithString("stack", mcp.Description("Call stack in text form, e.g. call:main/stmt:0/call:f (empty for the root)")),
		mcp.WithOutputSchema[RunStateResponse](),
	)
	s.mcpServer.AddTool(runStateTool, mcp.NewStructuredToolHandler(s.handleRunState))

	// TOOL: history
	historyTool := mcp.NewTool("history",
		mcp.WithDescription("Get the live call stack and the finished nodes of a thread."),
		mcp.WithString("thread", mcp.Required(), mcp.Description("Thread ID")),
		mcp.WithOutputSchema[HistoryResponse](),
	)
	s.mcpServer.AddTool(historyTool, mcp.NewStructuredToolHandler(s.handleHistory))
}

func (s *Server) handleListThreads(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ThreadListResponse, error) {
	return ThreadListResponse{Threads: s.threads.List()}, nil
}

func (s *Server) handleRunState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunStateResponse, error) {
	thread, _ := args["thread"].(string)
	raw, _ := args["stack"].(string)

	stack, err := domain.ParseCallStack(raw)
	if err != nil {
		return RunStateResponse{}, err
	}

	state, err := s.threads.RunState(thread, stack)
	if err != nil {
		s.logger.Warn("MCP run_state failed", "thread", thread, "err", err)
		return RunStateResponse{}, err
	}

	return RunStateResponse{Thread: thread, Stack: stack.String(), State: state.String()}, nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (HistoryResponse, error) {
	thread, _ := args["thread"].(string)

	snap, err := s.threads.Snapshot(thread)
	if err != nil {
		s.logger.Warn("MCP history failed", "thread", thread, "err", err)
		return HistoryResponse{}, err
	}

	history := make([]EntryView, len(snap.History))
	for i, e := range snap.History {
		history[i] = EntryView{Stack: e.Stack.String(), State: e.State.String()}
	}
	return HistoryResponse{
		Thread:  thread,
		Seq:     snap.Seq,
		Current: snap.Current.String(),
		History: history,
	}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: calltrace://threads
	s.mcpServer.AddResource(mcp.NewResource(threadsURI, "Traced Threads",
		mcp.WithMIMEType("application/json"),
	), s.readThreads)
}

func (s *Server) readThreads(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(ThreadListResponse{Threads: s.threads.List()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode threads: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      threadsURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
