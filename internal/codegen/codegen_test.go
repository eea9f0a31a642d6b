package codegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/codec"
	"github.com/jonathan/siteforge/internal/llm"
)

const fakeAgentEnv = "SITEFORGE_FAKE_AGENT"

// TestMain lets the test binary stand in for the agent CLI.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeAgentEnv); mode != "" {
		os.Exit(fakeAgent(mode))
	}
	os.Exit(m.Run())
}

func fakeAgent(mode string) int {
	switch mode {
	case "success":
		_ = os.MkdirAll("app", 0o755)
		_ = os.WriteFile(filepath.Join("app", "page.tsx"), []byte("export default function Page() {}"), 0o644)
		_ = os.WriteFile("package.json", []byte(`{"dependencies": {}}`), 0o644)
		_ = os.MkdirAll(filepath.Join("node_modules", "react"), 0o755)
		_ = os.WriteFile(filepath.Join("node_modules", "react", "index.js"), []byte("x"), 0o644)
		fmt.Println(`{"type":"result","subtype":"success","is_error":false,"num_turns":7,"result":"Built the site."}`)
	case "max_turns":
		fmt.Println(`{"type":"result","subtype":"error_max_turns","is_error":true,"num_turns":40,"result":""}`)
	case "sleep":
		time.Sleep(30 * time.Second)
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: not logged in")
		return 1
	}
	return 0
}

func fakeCLI(mode string) *CLIAgent {
	return NewCLIAgent(CLIAgentConfig{
		Binary: os.Args[0],
		Env:    []string{fakeAgentEnv + "=" + mode},
	})
}

func TestCLIAgent_Args(t *testing.T) {
	c := NewCLIAgent(CLIAgentConfig{Model: "sonnet", MaxTurns: 25})
	args := c.Args(Request{System: "sys", User: "build it"})

	assert.Equal(t, []string{
		"-p", "build it",
		"--output-format", "json",
		"--max-turns", "25",
		"--allowed-tools", "Read,Write,Edit,Glob,Grep",
		"--append-system-prompt", "sys",
		"--model", "sonnet",
	}, args)

	args = c.Args(Request{User: "u", MaxTurns: 3, AllowedTools: []string{"Write"}, Model: "opus"})
	assert.Contains(t, args, "3")
	assert.Contains(t, args, "Write")
	assert.Contains(t, args, "opus")
	assert.NotContains(t, args, "--append-system-prompt")
}

func TestCLIAgent_Success(t *testing.T) {
	dir := t.TempDir()
	resp, err := fakeCLI("success").Generate(context.Background(), Request{User: "go", Workspace: dir, Timeout: 20 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, 7, resp.Turns)
	assert.Equal(t, []string{"app/page.tsx", "package.json"}, resp.Bundle.Paths())
}

func TestCLIAgent_NonSuccessOutcome(t *testing.T) {
	_, err := fakeCLI("max_turns").Generate(context.Background(), Request{User: "go", Workspace: t.TempDir()})
	var oerr *OutcomeError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OutcomeMaxTurns, oerr.Outcome)
}

func TestCLIAgent_ProcessFailure(t *testing.T) {
	_, err := fakeCLI("crash").Generate(context.Background(), Request{User: "go", Workspace: t.TempDir()})
	var oerr *OutcomeError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OutcomeFailed, oerr.Outcome)
	assert.Contains(t, oerr.Message, "not logged in")
}

func TestCLIAgent_TimeoutKillsProcess(t *testing.T) {
	start := time.Now()
	_, err := fakeCLI("sleep").Generate(context.Background(), Request{User: "go", Workspace: t.TempDir(), Timeout: 200 * time.Millisecond})
	var oerr *OutcomeError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OutcomeTimeout, oerr.Outcome)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCLIAgent_RequiresWorkspace(t *testing.T) {
	_, err := fakeCLI("success").Generate(context.Background(), Request{User: "go"})
	assert.EqualError(t, err, "workspace is required")
	assert.Equal(t, codec.ModeWorkspace, fakeCLI("success").Mode())
}

func TestParseResult(t *testing.T) {
	r, err := ParseResult([]byte(`{"type":"result","subtype":"success","num_turns":2,"result":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, r.Outcome())

	stream := "{\"type\":\"system\"}\nnot json\n{\"type\":\"assistant\"}\n{\"type\":\"result\",\"subtype\":\"success\",\"is_error\":true}\n"
	r, err = ParseResult([]byte(stream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, r.Outcome())

	_, err = ParseResult([]byte("  "))
	assert.Error(t, err)
	_, err = ParseResult([]byte(`{"type":"assistant"}`))
	assert.ErrorContains(t, err, "no result object")
}

func TestCollectWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "components"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "components", "Hero.tsx"), []byte("hero"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 'P', 'N', 'G', 0, 1}, 0o644))

	bundle, err := CollectWorkspace(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"components/Hero.tsx": "hero"}, map[string]string(bundle))
}

type stubLLM struct {
	text string
	err  error
	got  llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.got = req
	if s.err != nil {
		return "", s.err
	}
	if s.text == "wait" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.text, nil
}

func (s *stubLLM) Close() error { return nil }

func TestGemini_Generate(t *testing.T) {
	client := &stubLLM{text: `{"app/page.tsx": "x"}`}
	g := NewGemini(client)
	assert.Equal(t, codec.ModeInline, g.Mode())

	resp, err := g.Generate(context.Background(), Request{System: "s", User: "u", Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Nil(t, resp.Bundle)
	assert.Equal(t, "s", client.got.System)
	assert.True(t, client.got.JSON)
	assert.Equal(t, "gemini-2.5-pro", client.got.Model)
}

func TestGemini_Errors(t *testing.T) {
	_, err := NewGemini(&stubLLM{err: errors.New("quota exceeded")}).Generate(context.Background(), Request{})
	var oerr *OutcomeError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OutcomeFailed, oerr.Outcome)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = NewGemini(&stubLLM{text: "wait"}).Generate(context.Background(), Request{Timeout: 20 * time.Millisecond})
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, OutcomeTimeout, oerr.Outcome)

	_, err = NewGemini(&stubLLM{}).Generate(context.Background(), Request{})
	require.ErrorAs(t, err, &oerr)
	assert.Contains(t, oerr.Message, "empty")
}
