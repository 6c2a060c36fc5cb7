package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// ActionKind classifies one model reply.
type ActionKind string

const (
	ActionContinue ActionKind = "continue" // Run a tool and keep going
	ActionComplete ActionKind = "complete"
	ActionStop     ActionKind = "stop"
)

// Action is the parsed intent of a model reply.
type Action struct {
	Kind   ActionKind
	Tool   string
	Args   map[string]any
	Reason string // Why a reply was classified as STOP
}

var (
	callPattern     = regexp.MustCompile(`\bCALL\s+([A-Za-z0-9_.\-]+)\s*\(`)
	donePattern     = regexp.MustCompile(`\bDONE\b`)
	completePattern = regexp.MustCompile(`(?im)^\s*complete\b`)
)

// ParseAction classifies output. A `CALL tool({...})` clause wins over a
// completion token; a malformed call or an unknown tool is a STOP, as is
// anything unrecognized.
func ParseAction(output string, known func(toolID string) bool) Action {
	if loc := callPattern.FindStringSubmatchIndex(output); loc != nil {
		toolID := output[loc[2]:loc[3]]
		if known == nil || !known(toolID) {
			return Action{Kind: ActionStop, Reason: fmt.Sprintf("unknown tool %q", toolID)}
		}
		args, err := parseCallArgs(output[loc[1]:])
		if err != nil {
			return Action{Kind: ActionStop, Reason: fmt.Sprintf("invalid arguments for %s: %v", toolID, err)}
		}
		return Action{Kind: ActionContinue, Tool: toolID, Args: args}
	}
	if donePattern.MatchString(output) || completePattern.MatchString(output) {
		return Action{Kind: ActionComplete}
	}
	return Action{Kind: ActionStop, Reason: "unrecognized output"}
}

// parseCallArgs reads `{json object})` or `)` from the text after the
// opening parenthesis.
func parseCallArgs(rest string) (map[string]any, error) {
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if strings.HasPrefix(trimmed, ")") {
		return map[string]any{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("expected a JSON object")
	}

	dec := jsontext.NewDecoder(strings.NewReader(trimmed))
	raw, err := dec.ReadValue()
	if err != nil {
		return nil, err
	}
	tail := strings.TrimLeft(trimmed[dec.InputOffset():], " \t\r\n")
	if !strings.HasPrefix(tail, ")") {
		return nil, fmt.Errorf("missing closing parenthesis")
	}

	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}
