package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/agents"
	"github.com/aristath/taskflow/internal/llm"
	"github.com/aristath/taskflow/internal/task"
	"github.com/aristath/taskflow/internal/tools"
)

// buildPrompt renders the system persona and a single user turn holding the
// task, the tools the agent may call and the most recent history.
func buildPrompt(a *agents.Agent, t *task.Task, specs []tools.Spec, history []string) []llm.Message {
	system := a.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s, an autonomous agent working on assigned tasks.", a.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are Agent %s", a.Name)
	if a.Role != "" {
		fmt.Fprintf(&b, " (%s)", a.Role)
	}
	b.WriteString(".\n")
	if a.Description != "" {
		b.WriteString(a.Description + "\n")
	}
	if len(a.Goals) > 0 {
		b.WriteString("\nYour goals:\n")
		for _, g := range a.Goals {
			b.WriteString("- " + g + "\n")
		}
	}

	fmt.Fprintf(&b, "\nTask: %s\nPriority: %s\n", t.Title(), t.Priority())
	if due := t.DueDate(); !due.IsZero() {
		fmt.Fprintf(&b, "Due: %s\n", due.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "Context: %s\n", t.Description())

	b.WriteString("\nAvailable tools:\n")
	if len(specs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range specs {
		b.WriteString("- " + s.Signature() + "\n")
	}

	if len(history) > 0 {
		b.WriteString("\nPrevious steps:\n")
		for i, h := range history {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
	}

	b.WriteString(`
Decide your next action and reply with exactly one of:
- CALL <tool>({"arg": "value"}) to use a tool
- DONE followed by your final answer once the task is finished
Any other reply stops work on this task.`)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// visibleTools returns the specs a can call.
func visibleTools(exec tools.Executor, a *agents.Agent) []tools.Spec {
	all := exec.Specs()
	specs := make([]tools.Spec, 0, len(all))
	for _, s := range all {
		if a.AllowsTool(s.ID) {
			specs = append(specs, s)
		}
	}
	return specs
}
