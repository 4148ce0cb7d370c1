// ABOUTME: CLI client commands that talk to a running coven-swarm over its HTTP API
// ABOUTME: Output is a table on terminals and JSON with --json

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-swarm/internal/api"
	"github.com/2389/coven-swarm/internal/config"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient calls the coven-swarm HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// do sends body as JSON and decodes a JSON response into out when non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMultiStatus {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = string(data)
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
}

// clientEnv is what a client command runs with.
type clientEnv struct {
	client *apiClient
	out    io.Writer
	json   bool
	args   []string
}

func (e *clientEnv) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// clientCommand registers its flags on fs and returns the command body.
type clientCommand func(fs *pflag.FlagSet) func(ctx context.Context, e *clientEnv) error

var clientCommands = map[string]clientCommand{
	"health":    healthCommand,
	"status":    statusCommand,
	"agents":    agentsCommand,
	"create":    createCommand,
	"stop":      stopCommand,
	"message":   messageCommand,
	"broadcast": broadcastCommand,
	"history":   historyCommand,
}

func runClient(ctx context.Context, name string, cmd clientCommand, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath(), "config file path")
	serverURL := fs.String("server", os.Getenv("COVEN_SWARM_URL"), "server base URL (default: from config)")
	token := fs.String("token", os.Getenv("COVEN_SWARM_TOKEN"), "API token (default: saved token file)")
	jsonOut := fs.Bool("json", false, "print JSON")
	body := cmd(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		return err
	}

	base := *serverURL
	if base == "" {
		base = "http://" + cfg.Server.HTTPAddr
		if cfg.Tailscale.Enabled {
			base = cfg.Tailscale.BaseURL()
		}
	}

	tok := *token
	if tok == "" {
		if data, err := os.ReadFile(tokenPath(*configPath)); err == nil {
			tok = strings.TrimSpace(string(data))
		}
	}

	return body(ctx, &clientEnv{
		client: newAPIClient(base, tok),
		out:    out,
		json:   *jsonOut,
		args:   fs.Args(),
	})
}

func healthCommand(_ *pflag.FlagSet) func(context.Context, *clientEnv) error {
	return func(ctx context.Context, e *clientEnv) error {
		var body string
		if err := e.client.do(ctx, http.MethodGet, "/health/ready", nil, &body); err != nil {
			return err
		}
		fmt.Fprintln(e.out, strings.TrimSpace(body))
		return nil
	}
}

func statusCommand(_ *pflag.FlagSet) func(context.Context, *clientEnv) error {
	return func(ctx context.Context, e *clientEnv) error {
		var st api.StatusResponse
		if err := e.client.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
			return err
		}
		if e.json {
			return e.printJSON(st)
		}

		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Agents:\t%d / %d\n", st.ActiveAgents, st.MaxAgents)
		fmt.Fprintf(tw, "Memory:\t%.1f%%\n", st.MemoryUsedPercent)
		fmt.Fprintf(tw, "CPU:\t%.1f%%\n", st.CPUUsedPercent)
		fmt.Fprintf(tw, "Uptime:\t%s\n", st.Uptime)
		fmt.Fprintf(tw, "Messages:\t%d\n", st.MessagesProcessed)
		fmt.Fprintf(tw, "Healthy:\t%d\n", st.Health.HealthyAgents)
		fmt.Fprintf(tw, "Unhealthy:\t%d (%d timed out)\n", st.Health.UnhealthyAgents, st.Health.TimedOutAgents)
		admit := color.GreenString("yes")
		if !st.CanCreate {
			admit = color.YellowString("no")
		}
		fmt.Fprintf(tw, "Accepting:\t%s\n", admit)
		return tw.Flush()
	}
}

// statusColor highlights a status string for terminals.
func statusColor(s string) string {
	switch {
	case strings.HasPrefix(s, "Error"):
		return color.RedString(s)
	case s == "Busy":
		return color.YellowString(s)
	case s == "Running" || s == "Idle":
		return color.GreenString(s)
	default:
		return color.HiBlackString(s)
	}
}

func agentsCommand(fs *pflag.FlagSet) func(context.Context, *clientEnv) error {
	agentType := fs.String("type", "", "only agents of this type")
	status := fs.String("status", "", "only agents with this status")
	return func(ctx context.Context, e *clientEnv) error {
		q := url.Values{}
		if *agentType != "" {
			q.Set("type", *agentType)
		}
		if *status != "" {
			q.Set("status", *status)
		}
		path := "/api/agents"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var agents []api.AgentResponse
		if err := e.client.do(ctx, http.MethodGet, path, nil, &agents); err != nil {
			return err
		}
		if e.json {
			return e.printJSON(agents)
		}
		if len(agents) == 0 {
			fmt.Fprintln(e.out, "no agents")
			return nil
		}

		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tLAST ACTIVE")
		for _, a := range agents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Type, statusColor(a.Status), a.LastActive)
		}
		return tw.Flush()
	}
}

func createCommand(fs *pflag.FlagSet) func(context.Context, *clientEnv) error {
	agentType := fs.StringP("type", "t", "echo", "agent type")
	task := fs.String("task", "", "initial task")
	name := fs.String("name", "", "agent name (generated when empty)")
	timeout := fs.String("timeout", "", "health timeout, e.g. 10m")
	priority := fs.Int("priority", 0, "priority recorded in metadata")
	caps := fs.StringSlice("capability", nil, "capability (repeatable)")
	count := fs.IntP("count", "n", 1, "number of agents to create in one batch")
	return func(ctx context.Context, e *clientEnv) error {
		if *count < 1 {
			return errors.New("--count must be at least 1")
		}
		req := api.CreateAgentRequest{
			Type:         *agentType,
			Task:         *task,
			Name:         *name,
			Capabilities: *caps,
			Timeout:      *timeout,
			Priority:     *priority,
		}

		if *count == 1 {
			var a api.AgentResponse
			if err := e.client.do(ctx, http.MethodPost, "/api/agents", req, &a); err != nil {
				return err
			}
			if e.json {
				return e.printJSON(a)
			}
			fmt.Fprintf(e.out, "%s %s (%s)\n", color.GreenString("created"), a.ID, a.Name)
			return nil
		}

		batch := api.BatchCreateRequest{Agents: make([]api.CreateAgentRequest, *count)}
		for i := range batch.Agents {
			batch.Agents[i] = req
			batch.Agents[i].Name = ""
		}
		var resp api.BatchCreateResponse
		err := e.client.do(ctx, http.MethodPost, "/api/agents/batch", batch, &resp)
		var apiErr *apiError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity) {
			return err
		}
		if e.json {
			return e.printJSON(resp)
		}
		for _, r := range resp.Results {
			if r.Error != "" {
				fmt.Fprintf(e.out, "%s %s: %s\n", color.RedString("failed"), r.Type, r.Error)
				continue
			}
			fmt.Fprintf(e.out, "%s %s\n", color.GreenString("created"), r.ID)
		}
		if resp.Created == 0 {
			return errors.New("no agents created")
		}
		return nil
	}
}

func stopCommand(_ *pflag.FlagSet) func(context.Context, *clientEnv) error {
	return func(ctx context.Context, e *clientEnv) error {
		if len(e.args) == 0 {
			return errors.New("usage: coven-swarm stop ID...")
		}
		var errs []error
		for _, id := range e.args {
			if err := e.client.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(id), nil, nil); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				continue
			}
			fmt.Fprintf(e.out, "%s %s\n", color.YellowString("stopped"), id)
		}
		return errors.Join(errs...)
	}
}

func messageCommand(fs *pflag.FlagSet) func(context.Context, *clientEnv) error {
	html := fs.Bool("html", false, "print the reply rendered as HTML")
	return func(ctx context.Context, e *clientEnv) error {
		if len(e.args) < 2 {
			return errors.New("usage: coven-swarm message ID TEXT")
		}
		path := "/api/agents/" + url.PathEscape(e.args[0]) + "/messages"
		if *html {
			path += "?render=html"
		}

		var resp api.MessageResponse
		req := api.MessageRequest{Content: strings.Join(e.args[1:], " ")}
		if err := e.client.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return err
		}
		if e.json {
			return e.printJSON(resp)
		}
		if *html {
			fmt.Fprint(e.out, resp.HTML)
			return nil
		}
		fmt.Fprintln(e.out, resp.Response)
		return nil
	}
}

func broadcastCommand(fs *pflag.FlagSet) func(context.Context, *clientEnv) error {
	wait := fs.Bool("wait", false, "deliver synchronously and report failures")
	return func(ctx context.Context, e *clientEnv) error {
		if len(e.args) == 0 {
			return errors.New("usage: coven-swarm broadcast TEXT")
		}

		var resp api.BroadcastResponse
		req := api.BroadcastRequest{Content: strings.Join(e.args, " "), Wait: *wait}
		if err := e.client.do(ctx, http.MethodPost, "/api/broadcast", req, &resp); err != nil {
			return err
		}
		if e.json {
			return e.printJSON(resp)
		}
		if resp.Queued {
			fmt.Fprintf(e.out, "queued broadcast %s\n", resp.MessageID)
			return nil
		}
		if len(resp.Failed) == 0 {
			fmt.Fprintln(e.out, color.GreenString("delivered to every agent"))
			return nil
		}
		for id, msg := range resp.Failed {
			fmt.Fprintf(e.out, "%s %s: %s\n", color.RedString("failed"), id, msg)
		}
		return fmt.Errorf("broadcast failed for %d agent(s)", len(resp.Failed))
	}
}

func historyCommand(fs *pflag.FlagSet) func(context.Context, *clientEnv) error {
	kind := fs.String("kind", "", "only events of this kind")
	limit := fs.Int("limit", 50, "events per page")
	all := fs.Bool("all", false, "follow pagination to the end")
	return func(ctx context.Context, e *clientEnv) error {
		if len(e.args) != 1 {
			return errors.New("usage: coven-swarm history ID")
		}

		var events []api.EventResponse
		cursor := ""
		for {
			q := url.Values{}
			q.Set("limit", fmt.Sprint(*limit))
			if *kind != "" {
				q.Set("kind", *kind)
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var page api.HistoryResponse
			path := "/api/agents/" + url.PathEscape(e.args[0]) + "/history?" + q.Encode()
			if err := e.client.do(ctx, http.MethodGet, path, nil, &page); err != nil {
				return err
			}
			events = append(events, page.Events...)
			if !*all || !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}

		if e.json {
			return e.printJSON(events)
		}
		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tKIND\tDETAIL")
		for _, ev := range events {
			detail, _ := json.Marshal(ev.Detail)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ev.Timestamp, ev.Kind, detail)
		}
		return tw.Flush()
	}
}
