package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/scrypster/vigil/internal/contextstore"
)

// DefaultTool is the calendar MCP tool polled for events.
const DefaultTool = "get_upcoming_events"

// MCPConfig describes a stdio MCP server to poll.
type MCPConfig struct {
	Name       string
	Tag        string
	Command    string
	Args       []string
	Env        map[string]string
	Tool       string
	HoursAhead float64
}

// MCPSource polls one tool on an MCP server. The server process is
// started lazily on first use and restarted after a failed call.
type MCPSource struct {
	cfg     MCPConfig
	logger  *slog.Logger
	connect func(ctx context.Context) (*client.Client, error)

	mu     sync.Mutex
	client *client.Client
}

// NewMCPSource returns a source that launches cfg.Command over stdio.
func NewMCPSource(cfg MCPConfig, logger *slog.Logger) *MCPSource {
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}
	if cfg.HoursAhead <= 0 {
		cfg.HoursAhead = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPSource{cfg: cfg, logger: logger}
	s.connect = s.startStdio
	return s
}

// NewMCPSourceWithClient wraps an already constructed client, typically
// an in-process one. The client is initialized on first use.
func NewMCPSourceWithClient(cfg MCPConfig, c *client.Client, logger *slog.Logger) *MCPSource {
	s := NewMCPSource(cfg, logger)
	s.connect = func(ctx context.Context) (*client.Client, error) {
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		if err := initialize(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return s
}

func (s *MCPSource) Name() string { return s.cfg.Name }
func (s *MCPSource) Tag() string  { return s.cfg.Tag }

// GetUpdates calls the configured tool. The tool returns upcoming events
// for a look-ahead window, so since is not forwarded; re-ingesting an
// unchanged event is idempotent.
func (s *MCPSource) GetUpdates(ctx context.Context, since time.Time) ([]contextstore.RawRecord, error) {
	c, err := s.ensureClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: connect: %v", ErrSource, s.cfg.Name, err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = s.cfg.Tool
	req.Params.Arguments = map[string]any{"hours_ahead": s.cfg.HoursAhead}

	res, err := c.CallTool(ctx, req)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("%w: %s: call %s: %v", ErrSource, s.cfg.Name, s.cfg.Tool, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s: tool error: %s", ErrSource, s.cfg.Name, text)
	}
	records, err := DecodeRecords([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSource, s.cfg.Name, err)
	}
	return records, nil
}

// Close stops the server process.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *MCPSource) ensureClient(ctx context.Context) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.client = c
	s.logger.Info("mcp source connected", "source", s.cfg.Name, "tool", s.cfg.Tool)
	return c, nil
}

func (s *MCPSource) reset() {
	if err := s.Close(); err != nil {
		s.logger.Debug("mcp close failed", "source", s.cfg.Name, "error", err)
	}
}

func (s *MCPSource) startStdio(ctx context.Context) (*client.Client, error) {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	c, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "vigil", Version: "1.0.0"}
	_, err := c.Initialize(ctx, req)
	return err
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch tc := content.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DecodeRecords accepts a JSON array of records, an object wrapping one
// under "events", "items" or "records", or a single record object.
func DecodeRecords(data []byte) ([]contextstore.RawRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []contextstore.RawRecord
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return list, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for _, key := range []string{"events", "items", "records"} {
		if raw, ok := obj[key]; ok {
			return recordList(raw)
		}
	}
	return []contextstore.RawRecord{obj}, nil
}

func recordList(raw any) ([]contextstore.RawRecord, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("decode records: expected a list, got %T", raw)
	}
	out := make([]contextstore.RawRecord, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode records: item %d is %T, not an object", i, item)
		}
		out = append(out, rec)
	}
	return out, nil
}
