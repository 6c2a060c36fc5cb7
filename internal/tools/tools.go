// Package tools defines the tool contract agents call during orchestration
// and a Registry that validates arguments before running them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownTool is returned when no tool is registered under an id.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when arguments do not match a tool's Spec.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Argument types accepted in ArgSpec.Type. They follow JSON value kinds.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// ArgSpec describes one named argument.
type ArgSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Spec describes a tool to the model and to the Registry.
type Spec struct {
	ID          string
	Description string
	Args        []ArgSpec
}

// Signature renders the spec as a single prompt line, e.g.
// `echo(text string) - Returns its input`.
func (s Spec) Signature() string {
	parts := make([]string, 0, len(s.Args))
	for _, a := range s.Args {
		p := a.Name + " " + a.Type
		if !a.Required {
			p += "?"
		}
		parts = append(parts, p)
	}
	sig := fmt.Sprintf("%s(%s)", s.ID, strings.Join(parts, ", "))
	if s.Description != "" {
		sig += " - " + s.Description
	}
	return sig
}

// Context identifies who is calling a tool.
type Context struct {
	AgentID  string
	TaskID   string
	Metadata map[string]any
}

// Result is the outcome of a tool run. Error is set only when Success is false.
type Result struct {
	Success   bool
	Data      any
	Error     string
	Metadata  map[string]any
	Timestamp time.Time
}

// Succeeded builds a successful Result.
func Succeeded(data any) Result {
	return Result{Success: true, Data: data, Timestamp: time.Now()}
}

// Failed builds a failed Result.
func Failed(msg string) Result {
	return Result{Error: msg, Timestamp: time.Now()}
}

// Tool is a single callable capability.
type Tool interface {
	Spec() Spec
	Run(ctx context.Context, args map[string]any, tc Context) (Result, error)
}

// Executor runs tools by id.
type Executor interface {
	// Execute returns an error wrapping ErrUnknownTool or ErrInvalidArguments
	// for calls that never reached the tool. Failures inside the tool come
	// back as a Result with Success false.
	Execute(ctx context.Context, id string, args map[string]any, tc Context) (Result, error)
	Specs() []Spec
	Has(id string) bool
}

// Func adapts a plain function into a Tool.
type Func struct {
	Def Spec
	Fn  func(ctx context.Context, args map[string]any, tc Context) (Result, error)
}

func (f Func) Spec() Spec { return f.Def }

func (f Func) Run(ctx context.Context, args map[string]any, tc Context) (Result, error) {
	return f.Fn(ctx, args, tc)
}
