package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/aristath/taskflow/internal/llm"
)

// GooseCompleter runs `goose run` once per completion. Goose reaches local
// LLM providers (Ollama, LM Studio, llama.cpp) through --provider and
// --model, which go in the provider args.
type GooseCompleter struct {
	name    string
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// gooseResponse is the JSON document goose prints. The format is loosely
// documented, so only content is read.
type gooseResponse struct {
	Content string `json:"content"`
}

// NewGooseCompleter creates a Goose completer.
func NewGooseCompleter(cfg Config, procMgr *ProcessManager) (*GooseCompleter, error) {
	return &GooseCompleter{
		name:    cfg.name(),
		command: cfg.command(),
		args:    slices.Clone(cfg.Args),
		workDir: cfg.WorkDir,
		procMgr: procMgr,
	}, nil
}

// Complete sends the flattened conversation to goose.
func (g *GooseCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	system, prompt := flatten(req.Messages)
	if prompt == "" {
		return llm.Response{}, llm.NewInvalidRequestError(g.name, req.Model, "no messages to send")
	}

	ctx, cancel := withCallTimeout(ctx, req.Config)
	defer cancel()

	cmd := newCommand(ctx, g.command, g.buildArgs(prompt, system, req.Model)...)
	cmd.Dir = g.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, g.procMgr)
	if err != nil {
		return llm.Response{}, classify(ctx, g.name, req.Model, req.Config.Timeout, err, stderr)
	}

	resp, err := parseGooseResponse(stdout)
	if err != nil {
		// Older goose builds ignore --output-format and print plain text
		text := strings.TrimSpace(string(stdout))
		if text == "" {
			return llm.Response{}, llm.NewProviderError(g.name, req.Model,
				fmt.Sprintf("goose returned no output (stderr: %s)", firstLine(stderr)), err)
		}
		resp = llm.Response{Content: text}
	}
	resp.Metadata = map[string]any{"provider": g.name}
	return resp, nil
}

// buildArgs constructs the command-line arguments for the Goose CLI.
func (g *GooseCompleter) buildArgs(prompt, system, model string) []string {
	args := []string{"run"}
	args = append(args, g.args...)
	args = append(args, "--text", prompt, "--output-format", "json")

	if model != "" {
		args = append(args, "--model", model)
	}
	if system != "" {
		args = append(args, "--system", system)
	}
	return args
}

// parseGooseResponse parses a single JSON object first, then falls back to
// newline-delimited JSON.
func parseGooseResponse(data []byte) (llm.Response, error) {
	var single gooseResponse
	if err := json.Unmarshal(data, &single); err == nil {
		return llm.Response{Content: single.Content}, nil
	}

	var contents []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var lineResp gooseResponse
		if err := json.Unmarshal([]byte(line), &lineResp); err == nil && lineResp.Content != "" {
			contents = append(contents, lineResp.Content)
		}
	}
	if len(contents) > 0 {
		return llm.Response{Content: strings.Join(contents, "\n")}, nil
	}
	return llm.Response{}, fmt.Errorf("failed to parse goose JSON response")
}
