package backend

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/aristath/taskflow/internal/llm"
)

// ClaudeCompleter runs the Claude Code CLI in print mode, one subprocess per
// completion.
type ClaudeCompleter struct {
	name    string
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// claudeResponse is the JSON document printed by `claude -p --output-format json`.
// Result is either the reply text or an object carrying a content array.
type claudeResponse struct {
	Type      string         `json:"type"`
	IsError   bool           `json:"is_error"`
	SessionID string         `json:"session_id"`
	Result    jsontext.Value `json:"result"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeCompleter creates a Claude completer. The ProcessManager is
// optional; if nil, subprocesses are not tracked.
func NewClaudeCompleter(cfg Config, procMgr *ProcessManager) (*ClaudeCompleter, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeCompleter{
		name:    cfg.name(),
		command: cfg.command(),
		args:    slices.Clone(cfg.Args),
		workDir: workDir,
		procMgr: procMgr,
	}, nil
}

// Complete sends the flattened conversation to the CLI.
func (c *ClaudeCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	system, prompt := flatten(req.Messages)
	if prompt == "" {
		return llm.Response{}, llm.NewInvalidRequestError(c.name, req.Model, "no messages to send")
	}

	ctx, cancel := withCallTimeout(ctx, req.Config)
	defer cancel()

	cmd := newCommand(ctx, c.command, c.buildArgs(prompt, system, req.Model)...)
	cmd.Dir = c.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return llm.Response{}, classify(ctx, c.name, req.Model, req.Config.Timeout, err, stderr)
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return llm.Response{}, llm.NewProviderError(c.name, req.Model,
			fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, firstLine(stderr)), err)
	}
	if isErr, _ := resp.Metadata["is_error"].(bool); isErr {
		if rateLimited(resp.Content) {
			return llm.Response{}, llm.NewRateLimitError(c.name, req.Model, resp.Content)
		}
		if tokenLimited(resp.Content) {
			return llm.Response{}, llm.NewTokenLimitError(c.name, req.Model, 0, 0)
		}
		return llm.Response{}, llm.NewProviderError(c.name, req.Model, resp.Content, nil)
	}
	resp.Metadata["provider"] = c.name
	return resp, nil
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (c *ClaudeCompleter) buildArgs(prompt, system, model string) []string {
	args := slices.Clone(c.args)
	args = append(args, "-p", prompt, "--output-format", "json")

	if model != "" {
		args = append(args, "--model", model)
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}
	return args
}

// parseClaudeResponse parses the JSON output from Claude Code CLI.
func parseClaudeResponse(data []byte) (llm.Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return llm.Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	switch cr.Result.Kind() {
	case '"':
		if err := json.Unmarshal(cr.Result, &content); err != nil {
			return llm.Response{}, fmt.Errorf("failed to decode result text: %w", err)
		}
	case '{':
		var cc claudeContent
		if err := json.Unmarshal(cr.Result, &cc); err != nil {
			return llm.Response{}, fmt.Errorf("failed to decode result content: %w", err)
		}
		for _, item := range cc.Content {
			if item.Type == "text" {
				content += item.Text
			}
		}
	default:
		return llm.Response{}, fmt.Errorf("response has no result")
	}

	return llm.Response{
		Content: content,
		Usage: llm.Usage{
			Prompt:     cr.Usage.InputTokens,
			Completion: cr.Usage.OutputTokens,
			Total:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
		Metadata: map[string]any{
			"session_id": cr.SessionID,
			"is_error":   cr.IsError,
		},
	}, nil
}
