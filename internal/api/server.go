package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/h1v3-io/agentrouter/internal/agent"
	"github.com/h1v3-io/agentrouter/internal/logbuf"
	"github.com/h1v3-io/agentrouter/internal/provider"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

const (
	serviceName    = "AI Agent Router API"
	serviceVersion = "1.0.0"
)

// Runner executes one agent run. Implemented by *agent.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Records is the read side of the store.
type Records interface {
	Tickets() []protocol.Ticket
	Followups() []protocol.Followup
}

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the agent router HTTP front door.
type Server struct {
	runner  Runner
	records Records
	logs    LogQuerier
	cfg     Config
	logger  *slog.Logger
	engine  *gin.Engine
	srv     *http.Server
}

// NewServer creates the API server. runner may be nil when no inference
// client could be built; the run endpoint then answers 503. logs may be nil.
func NewServer(runner Runner, records Records, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner:  runner,
		records: records,
		logs:    logs,
		cfg:     cfg,
		logger:  logger.With("component", "api"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	engine.GET("/", s.handleRoot)
	engine.GET("/health", s.handleHealth)
	v1 := engine.Group("/v1")
	v1.GET("/agent/run", s.handleRunUsage)
	v1.POST("/agent/run", s.handleRun)
	v1.GET("/tickets", s.handleTickets)
	v1.GET("/followups", s.handleFollowups)
	v1.GET("/logs", s.handleLogs)

	s.engine = engine
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// --- Middleware ---

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// --- Handlers ---

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    serviceName,
		"version": serviceVersion,
		"status":  "running",
		"endpoints": gin.H{
			"health":    "/health",
			"agent":     "/v1/agent/run",
			"tickets":   "/v1/tickets",
			"followups": "/v1/followups",
			"logs":      "/v1/logs",
		},
		"usage": gin.H{
			"health_check":    "GET /health",
			"run_agent":       "POST /v1/agent/run",
			"example_request": exampleRequest,
		},
	})
}

var exampleRequest = gin.H{"task": "What is the pricing model?", "language": "en"}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRunUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"error":    "This endpoint requires POST method",
		"method":   "POST",
		"endpoint": "/v1/agent/run",
		"required_fields": gin.H{
			"task":        "string - The task/question for the agent",
			"language":    "string (optional) - Response language (e.g., 'en', 'Spanish')",
			"customer_id": "string (optional) - Customer ID for ticket creation",
		},
		"example": exampleRequest,
	})
}

// RunRequest is the body of POST /v1/agent/run.
type RunRequest struct {
	Task       string `json:"task" binding:"required,max=5000"`
	CustomerID string `json:"customer_id" binding:"omitempty,max=100"`
	Language   string `json:"language" binding:"omitempty,max=10"`
}

// ToolCall is one entry of the run trace.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// Metrics summarises a run.
type Metrics struct {
	LatencyMS   int64  `json:"latency_ms"`
	Model       string `json:"model"`
	OpenAICalls int    `json:"openai_calls"`
}

// RunResponse is the body of a successful run.
type RunResponse struct {
	TraceID     string     `json:"trace_id"`
	FinalAnswer string     `json:"final_answer"`
	ToolCalls   []ToolCall `json:"tool_calls"`
	Metrics     Metrics    `json:"metrics"`
}

// ErrorDetail is the body of a failed run.
type ErrorDetail struct {
	TraceID   string `json:"trace_id"`
	Error     string `json:"error"`
	LatencyMS int64  `json:"latency_ms"`
}

func (s *Server) handleRun(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"detail": "OpenAI client not initialized. Check OPENAI_API_KEY environment variable.",
		})
		return
	}

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Task cannot be empty"})
		return
	}

	traceID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With(logbuf.TraceKey, traceID)
	logger.Info("received request", "task", truncate(task, 100))

	// The run completes even if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := s.runner.Run(ctx, agent.Request{
		Task:     task,
		Language: req.Language,
		CallerID: req.CustomerID,
		TraceID:  traceID,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		status := statusFor(err)
		logger.Error("agent run failed", "status", status, "latency_ms", latency, "error", err)
		c.JSON(status, gin.H{"detail": ErrorDetail{TraceID: traceID, Error: errorMessage(err), LatencyMS: latency}})
		return
	}

	calls := make([]ToolCall, 0, len(res.Invocations))
	for _, rec := range res.Invocations {
		args := rec.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{Name: rec.Name, Arguments: args, Result: rec.Output()})
	}

	logger.Info("agent run completed",
		"latency_ms", latency,
		"openai_calls", res.InferenceCalls,
		"model", res.Model,
		"tool_calls", len(calls),
	)

	c.JSON(http.StatusOK, RunResponse{
		TraceID:     traceID,
		FinalAnswer: res.FinalAnswer,
		ToolCalls:   calls,
		Metrics:     Metrics{LatencyMS: latency, Model: res.Model, OpenAICalls: res.InferenceCalls},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyTask):
		return http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if errors.Is(err, provider.ErrTimeout) {
		return "Request timeout: " + err.Error()
	}
	return err.Error()
}

func (s *Server) handleTickets(c *gin.Context) {
	tickets := s.records.Tickets()
	if tickets == nil {
		tickets = []protocol.Ticket{}
	}
	c.JSON(http.StatusOK, tickets)
}

func (s *Server) handleFollowups(c *gin.Context) {
	followups := s.records.Followups()
	if followups == nil {
		followups = []protocol.Followup{}
	}
	c.JSON(http.StatusOK, followups)
}

func (s *Server) handleLogs(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusOK, []logbuf.Entry{})
		return
	}

	f := logbuf.Filter{Limit: 200, MinLevel: slog.LevelDebug, TraceID: c.Query("trace_id")}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := c.Query("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if since := c.Query("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
