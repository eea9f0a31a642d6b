package codegen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonathan/siteforge/internal/codec"
	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/types"
)

const (
	maxCollectedFileBytes  = 1 << 20
	maxCollectedTotalBytes = 16 << 20
)

// skippedDirs are never collected into a bundle.
var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".next":        true,
	".agent":       true,
	".claude":      true,
}

// DefaultAllowedTools is the tool allow-list passed to agentic runs.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Glob", "Grep"}

// CLIAgentConfig configures a CLIAgent.
type CLIAgentConfig struct {
	Binary       string
	Model        string
	MaxTurns     int
	AllowedTools []string
	Env          []string
	Logger       *slog.Logger
}

// CLIAgent runs an agentic coding CLI in the attempt workspace and collects
// the files it writes.
type CLIAgent struct {
	cfg CLIAgentConfig
}

// NewCLIAgent creates a CLI-backed service.
func NewCLIAgent(cfg CLIAgentConfig) *CLIAgent {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = DefaultAllowedTools
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &CLIAgent{cfg: cfg}
}

// Mode implements Service.
func (c *CLIAgent) Mode() codec.Mode { return codec.ModeWorkspace }

// Args builds the command line for req.
func (c *CLIAgent) Args(req Request) []string {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.cfg.MaxTurns
	}
	tools := req.AllowedTools
	if len(tools) == 0 {
		tools = c.cfg.AllowedTools
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	args := []string{
		"-p", req.User,
		"--output-format", "json",
		"--max-turns", strconv.Itoa(maxTurns),
		"--allowed-tools", strings.Join(tools, ","),
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

// Generate implements Service. The process is killed when the timeout expires.
func (c *CLIAgent) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.Args(req)...)
	cmd.Dir = req.Workspace
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, timeoutError(ctx, ctx.Err())
	}

	result, parseErr := ParseResult(stdout.Bytes())
	if runErr != nil && parseErr != nil {
		return nil, &OutcomeError{
			Outcome: OutcomeFailed,
			Message: strings.TrimSpace(lastLine(stderr.String())),
			Cause:   runErr,
		}
	}
	if parseErr != nil {
		return nil, &OutcomeError{Outcome: OutcomeFailed, Message: "unreadable agent result", Cause: parseErr}
	}
	if result.Outcome() != OutcomeSuccess {
		return nil, &OutcomeError{Outcome: result.Outcome(), Message: truncate(result.Result, 300)}
	}

	bundle, err := CollectWorkspace(req.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to collect workspace: %w", err)
	}
	c.cfg.Logger.Debug("agent run finished",
		slog.Int("turns", result.NumTurns),
		slog.Int("files", len(bundle)),
		slog.Int("bytes", bundle.Size()))
	return &Response{Outcome: OutcomeSuccess, Text: result.Result, Bundle: bundle, Turns: result.NumTurns}, nil
}

// Result is the final JSON object printed by the agent CLI.
type Result struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	IsError  bool   `json:"is_error"`
	NumTurns int    `json:"num_turns"`
	Result   string `json:"result"`
}

// Outcome maps the result onto an Outcome.
func (r *Result) Outcome() Outcome {
	switch {
	case r.Subtype == string(OutcomeMaxTurns):
		return OutcomeMaxTurns
	case r.IsError || r.Subtype != string(OutcomeSuccess):
		return OutcomeFailed
	default:
		return OutcomeSuccess
	}
}

// ParseResult finds the result object in CLI output. Both a single JSON
// document and line-delimited stream output are accepted; the last result
// line wins.
func ParseResult(output []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, errors.New("empty output")
	}

	var single Result
	if err := json.Unmarshal(trimmed, &single); err == nil && single.Type == "result" {
		return &single, nil
	}

	var found *Result
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		var r Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if r.Type == "result" {
			found = &r
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan output: %w", err)
	}
	if found == nil {
		return nil, errors.New("no result object in output")
	}
	return found, nil
}

// CollectWorkspace reads the text files under dir into a bundle keyed by
// slash-separated relative path.
func CollectWorkspace(dir string) (types.ArtifactBundle, error) {
	bundle := types.ArtifactBundle{}
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxCollectedFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		total += len(data)
		if total > maxCollectedTotalBytes {
			return fmt.Errorf("workspace exceeds %d bytes", maxCollectedTotalBytes)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		bundle[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
