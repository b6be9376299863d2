package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/h1v3-io/agentrouter/internal/agent"
	"github.com/h1v3-io/agentrouter/internal/api"
	"github.com/h1v3-io/agentrouter/internal/config"
	"github.com/h1v3-io/agentrouter/internal/kb"
	"github.com/h1v3-io/agentrouter/internal/provider"
	"github.com/h1v3-io/agentrouter/internal/store"
	"github.com/h1v3-io/agentrouter/internal/tool"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "ask":
		cmdAsk(os.Args[2:])
	case "health":
		cmdHealth()
	case "tickets":
		cmdTickets()
	case "followups":
		cmdFollowups()
	case "search":
		cmdSearch(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: routerctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- ask command ---

// session carries the interactive settings applied to every request.
type session struct {
	Language   string
	CustomerID string
}

func cmdAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	task := fs.String("task", "", "Single task (omit for interactive)")
	language := fs.String("language", "", "Response language")
	customer := fs.String("customer", "", "Customer ID for ticket attribution")
	fs.Parse(args)

	if _, err := apiGet("/health"); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach the router at %s: %v\n", apiBase(), err)
		os.Exit(1)
	}

	sess := &session{Language: *language, CustomerID: *customer}
	text := *task
	if text == "" && fs.NArg() > 0 {
		text = strings.Join(fs.Args(), " ")
	}
	if text != "" {
		if err := ask(os.Stdout, text, sess); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("routerctl interactive mode (type 'help' for commands, 'quit' to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(sess.prompt())
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handled, quit := sess.command(os.Stdout, line)
		if quit {
			break
		}
		if handled {
			continue
		}
		if err := ask(os.Stdout, line, sess); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (s *session) prompt() string {
	var parts []string
	if s.Language != "" {
		parts = append(parts, "lang:"+s.Language)
	}
	if s.CustomerID != "" {
		parts = append(parts, "customer:"+s.CustomerID)
	}
	if len(parts) == 0 {
		return "> "
	}
	return "[" + strings.Join(parts, " ") + "] > "
}

// command applies a settings command. It reports whether the line was a
// command and whether the session should end.
func (s *session) command(w io.Writer, line string) (handled, quit bool) {
	lower := strings.ToLower(line)
	switch {
	case lower == "quit" || lower == "exit" || lower == "q":
		return true, true
	case lower == "clear":
		s.Language, s.CustomerID = "", ""
		fmt.Fprintln(w, "Settings cleared.")
		return true, false
	case lower == "help" || lower == "examples" || lower == "h":
		fmt.Fprintln(w, "Example questions:")
		fmt.Fprintln(w, "  What is the pricing model?")
		fmt.Fprintln(w, "  How does CRM writeback work?")
		fmt.Fprintln(w, "  Create a high priority ticket for ops")
		fmt.Fprintln(w, "  Schedule a follow-up with Marta tomorrow at 10:30 CET via WhatsApp")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands: lang:<language>, customer:<id>, clear, help, quit")
		return true, false
	case strings.HasPrefix(line, "lang:"):
		s.Language = strings.TrimSpace(strings.TrimPrefix(line, "lang:"))
		fmt.Fprintf(w, "Language set to: %s\n", s.Language)
		return true, false
	case strings.HasPrefix(line, "customer:"):
		s.CustomerID = strings.TrimSpace(strings.TrimPrefix(line, "customer:"))
		fmt.Fprintf(w, "Customer ID set to: %s\n", s.CustomerID)
		return true, false
	}
	return false, false
}

func ask(w io.Writer, task string, sess *session) error {
	payload, _ := json.Marshal(api.RunRequest{Task: task, Language: sess.Language, CustomerID: sess.CustomerID})
	body, err := apiPost("/v1/agent/run", payload)
	if err != nil {
		return err
	}
	var resp api.RunResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	printTrace(w, resp)
	return nil
}

func printTrace(w io.Writer, resp api.RunResponse) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Trace ID: %s\n\n", resp.TraceID)
	fmt.Fprintln(w, resp.FinalAnswer)

	if len(resp.ToolCalls) > 0 {
		fmt.Fprintf(w, "\nTool Calls (%d):\n", len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			fmt.Fprintf(w, "  %d. %s %s\n", i+1, tc.Name, args)
			fmt.Fprintf(w, "     %s\n", summarizeResult(tc.Result))
		}
	}

	fmt.Fprintf(w, "\nLatency: %dms | OpenAI calls: %d | Model: %s\n",
		resp.Metrics.LatencyMS, resp.Metrics.OpenAICalls, resp.Metrics.Model)
	fmt.Fprintln(w, rule)
}

func summarizeResult(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", result)
	}
	if msg, ok := m["error"]; ok {
		return fmt.Sprintf("Error: %v", msg)
	}
	if results, ok := m["results"].([]any); ok {
		ids := make([]string, 0, len(results))
		for _, r := range results {
			if entry, ok := r.(map[string]any); ok {
				ids = append(ids, fmt.Sprintf("%v", entry["id"]))
			}
		}
		return "KB Results: " + strings.Join(ids, ", ")
	}
	if id, ok := m["ticket_id"]; ok {
		return fmt.Sprintf("Ticket ID: %v", id)
	}
	if id, ok := m["followup_id"]; ok {
		return fmt.Sprintf("Follow-up ID: %v", id)
	}
	out, _ := json.Marshal(m)
	return string(out)
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTickets() {
	body, err := apiGet("/v1/tickets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []protocol.Ticket
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("%-12s %-7s %s\n", t.ID, t.Priority, t.Title)
	}
}

func cmdFollowups() {
	body, err := apiGet("/v1/followups")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var followups []protocol.Followup
	json.Unmarshal(body, &followups)
	for _, f := range followups {
		fmt.Printf("%-11s %-26s %-9s %s\n", f.ID, f.DatetimeISO, f.Channel, f.Contact)
	}
}

// --- local commands ---

func cmdSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	path := fs.String("kb", envOr("KB_PATH", "kb.json"), "Knowledge source (JSON or YAML)")
	topK := fs.Int("top-k", kb.DefaultTopK, "Max results")
	tags := fs.String("tags", "", "Comma-separated tag filter")
	audience := fs.String("audience", "", "Audience filter (customer|internal)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: routerctl search [flags] <query>")
		os.Exit(1)
	}

	q := kb.Query{Text: strings.Join(fs.Args(), " "), TopK: *topK}
	if *tags != "" {
		for _, tag := range strings.Split(*tags, ",") {
			q.Tags = append(q.Tags, strings.TrimSpace(tag))
		}
	}
	if *audience != "" {
		q.Audience = *audience
	}

	results, err := kb.NewEngine(*path).Search(q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, r := range results {
		fmt.Printf("%-10s %6.2f  %s\n", r.ID, r.Score, r.Title)
		fmt.Printf("           %s\n", r.Snippet)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (environment when empty)")
	task := fs.String("task", "", "Task to run")
	language := fs.String("language", "", "Response language")
	customer := fs.String("customer", "", "Customer ID")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)

	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: routerctl run -task <text> [-config path]")
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !cfg.HasAPIKey() {
		fmt.Fprintln(os.Stderr, "error: API key required (OPENAI_API_KEY or openai.api_key)")
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{
		Kind:   store.Kind(cfg.Storage.Type),
		File:   cfg.Storage.File,
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN(),
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	opts := []provider.OpenAIOption{
		provider.WithModel(cfg.OpenAI.Model),
		provider.WithTimeout(time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, provider.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	orch := agent.New(provider.NewOpenAI(cfg.OpenAI.APIKey, opts...), tool.NewDefaultRegistry(kb.NewEngine(cfg.KB.Path), st))
	orch.Logger = logger
	orch.MaxIterations = cfg.Agent.MaxIterations

	res, err := orch.Run(ctx, agent.Request{Task: *task, Language: *language, CallerID: *customer})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	calls := make([]api.ToolCall, 0, len(res.Invocations))
	for _, rec := range res.Invocations {
		calls = append(calls, api.ToolCall{Name: rec.Name, Arguments: rec.Arguments, Result: rec.Output()})
	}
	// Round-trip through JSON so results print like API responses.
	raw, _ := json.Marshal(api.RunResponse{
		TraceID:     res.TraceID,
		FinalAnswer: res.FinalAnswer,
		ToolCalls:   calls,
		Metrics:     api.Metrics{LatencyMS: res.Elapsed.Milliseconds(), Model: res.Model, OpenAICalls: res.InferenceCalls},
	})
	var resp api.RunResponse
	json.Unmarshal(raw, &resp)
	printTrace(os.Stdout, resp)
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiBase() string {
	return envOr("ROUTER_API_URL", "http://127.0.0.1:8000")
}

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil, 10*time.Second)
}

func apiPost(path string, payload []byte) ([]byte, error) {
	return apiDo(http.MethodPost, path, payload, 120*time.Second)
}

func apiDo(method, path string, payload []byte, timeout time.Duration) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, apiBase()+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("routerctl - agent router CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ask [-task t]        Ask the running router (interactive without -task)")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  tickets              List tickets")
	fmt.Println("  followups            List follow-ups")
	fmt.Println("  search <query>       Search a knowledge source locally")
	fmt.Println("  run -task t          Run the agent in-process")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ROUTER_API_URL     Daemon URL (default: http://127.0.0.1:8000)")
	fmt.Println("  OPENAI_API_KEY     API key for the run command")
	fmt.Println("  KB_PATH            Knowledge source for search")
}
