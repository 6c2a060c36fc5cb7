package tools

import "context"

// Echo returns its text argument unchanged. It is always registered so an
// agent has at least one tool to call.
func Echo() Tool {
	return Func{
		Def: Spec{
			ID:          "echo",
			Description: "Returns the given text unchanged",
			Args: []ArgSpec{
				{Name: "text", Type: TypeString, Required: true, Description: "Text to return"},
			},
		},
		Fn: func(_ context.Context, args map[string]any, _ Context) (Result, error) {
			return Succeeded(args["text"]), nil
		},
	}
}
