// Package mcp exposes editing sessions and share links as MCP tools, so an
// agent runtime can drive the controller directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const sessionURIPrefix = "anyheart://sessions/"

// Sessions is the subset of the controller the tools call.
type Sessions interface {
	Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error)
	SubmitRound(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error)
	Status(ctx context.Context, sessionID string) (*domain.Summary, error)
	Complete(ctx context.Context, sessionID string) (*domain.Summary, error)
}

// Shares is the subset of the share store the tools call.
type Shares interface {
	Create(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error)
	Fetch(ctx context.Context, id string) (*domain.ShareRecord, error)
}

// Server wraps the controller and exposes it as an MCP Server.
type Server struct {
	sessions  Sessions
	shares    Shares
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(sessions Sessions, shares Shares, version string, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		shares:    shares,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("anyheart-mcp", strings.TrimSpace(version)),
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

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
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
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
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

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type startArgs struct {
	Query             string `json:"query"`
	HTML              string `json:"html"`
	InitialScreenshot string `json:"initial_screenshot,omitempty"`
	ModelType         string `json:"model_type,omitempty"`
}

type roundArgs struct {
	SessionID  string `json:"session_id"`
	Query      string `json:"query"`
	Screenshot string `json:"screenshot,omitempty"`
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

type shareArgs struct {
	URL           string `json:"url"`
	HTML          string `json:"html"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
}

type fetchArgs struct {
	ShareID string `json:"share_id"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start an editing session on a page and apply the first instruction."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language edit instruction")),
		mcp.WithString("html", mcp.Required(), mcp.Description("Full page markup")),
		mcp.WithString("initial_screenshot", mcp.Description("Data URL of the page before editing")),
		mcp.WithString("model_type", mcp.Description("Interpreter model family")),
		mcp.WithOutputSchema[domain.RoundResult](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("submit_round",
		mcp.WithDescription("Apply a follow-up instruction to an active session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language edit instruction")),
		mcp.WithString("screenshot", mcp.Description("Data URL of the page as it looks now")),
		mcp.WithOutputSchema[domain.RoundResult](),
	), mcp.NewStructuredToolHandler(s.handleSubmit))

	s.mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Summarise a session and its rounds."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[domain.Summary](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("complete_session",
		mcp.WithDescription("End a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[domain.Summary](),
	), mcp.NewStructuredToolHandler(s.handleComplete))

	s.mcpServer.AddTool(mcp.NewTool("create_share",
		mcp.WithDescription("Publish modified markup as a share link for its page."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute URL of the page")),
		mcp.WithString("html", mcp.Required(), mcp.Description("Modified page markup")),
		mcp.WithString("title", mcp.Description("Short title")),
		mcp.WithString("description", mcp.Description("Short description")),
		mcp.WithNumber("expires_in_days", mcp.Description("Days until expiry, 0 for no expiry")),
		mcp.WithOutputSchema[domain.ShareResult](),
	), mcp.NewStructuredToolHandler(s.handleCreateShare))

	s.mcpServer.AddTool(mcp.NewTool("fetch_share",
		mcp.WithDescription("Fetch the markup behind a share link."),
		mcp.WithString("share_id", mcp.Required(), mcp.Description("Share ID")),
		mcp.WithOutputSchema[domain.ShareRecord](),
	), mcp.NewStructuredToolHandler(s.handleFetchShare))
}

// An errored round is still a result: its error_kind tells the agent what happened.
func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args startArgs) (*domain.RoundResult, error) {
	res, err := s.sessions.Start(ctx, domain.StartRequest(args))
	return s.round("start_session", res, err)
}

func (s *Server) handleSubmit(ctx context.Context, _ mcp.CallToolRequest, args roundArgs) (*domain.RoundResult, error) {
	res, err := s.sessions.SubmitRound(ctx, args.SessionID, args.Query, args.Screenshot)
	return s.round("submit_round", res, err)
}

func (s *Server) round(tool string, res *domain.RoundResult, err error) (*domain.RoundResult, error) {
	if err != nil && res == nil {
		return nil, toolError(tool, err)
	}
	if err != nil {
		s.logger.Warn("MCP: Round errored", "tool", tool, "session_id", res.SessionID, "kind", res.ErrorKind)
	}
	return res, nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest, args sessionArgs) (*domain.Summary, error) {
	sum, err := s.sessions.Status(ctx, args.SessionID)
	if err != nil {
		return nil, toolError("get_status", err)
	}
	return sum, nil
}

func (s *Server) handleComplete(ctx context.Context, _ mcp.CallToolRequest, args sessionArgs) (*domain.Summary, error) {
	sum, err := s.sessions.Complete(ctx, args.SessionID)
	if err != nil {
		return nil, toolError("complete_session", err)
	}
	return sum, nil
}

func (s *Server) handleCreateShare(ctx context.Context, _ mcp.CallToolRequest, args shareArgs) (*domain.ShareResult, error) {
	res, err := s.shares.Create(ctx, domain.ShareRequest(args))
	if err != nil {
		return nil, toolError("create_share", err)
	}
	return res, nil
}

func (s *Server) handleFetchShare(ctx context.Context, _ mcp.CallToolRequest, args fetchArgs) (*domain.ShareRecord, error) {
	rec, err := s.shares.Fetch(ctx, args.ShareID)
	if err != nil {
		return nil, toolError("fetch_share", err)
	}
	return rec, nil
}

func toolError(tool string, err error) error {
	return fmt.Errorf("%s failed (%s): %s: %w", tool, domain.Kind(err), domain.StatusMessage(err), err)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(sessionURIPrefix+"{id}", "Session Summary",
		mcp.WithTemplateDescription("Status and rounds of an editing session"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readSession)
}

func (s *Server) readSession(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, sessionURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("%w: unknown resource %s", domain.ErrInvalidInput, uri)
	}
	sum, err := s.sessions.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(sum)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
