package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Echo()))

	err := r.Register(Echo())
	assert.ErrorContains(t, err, "already registered")

	err = r.Register(Func{Def: Spec{}})
	assert.ErrorContains(t, err, "id is required")
}

func TestExecuteEcho(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Echo())

	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, Context{TaskID: "t-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Data)
	assert.False(t, res.Timestamp.IsZero())
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "nope", nil, Context{})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.False(t, r.Has("nope"))
}

func TestValidateArgs(t *testing.T) {
	spec := Spec{ID: "search", Args: []ArgSpec{
		{Name: "query", Type: TypeString, Required: true},
		{Name: "limit", Type: TypeNumber},
		{Name: "exact", Type: TypeBoolean},
		{Name: "filters", Type: TypeObject},
		{Name: "sources", Type: TypeArray},
	}}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{name: "required only", args: map[string]any{"query": "go"}},
		{name: "all kinds", args: map[string]any{
			"query": "go", "limit": float64(3), "exact": true,
			"filters": map[string]any{"lang": "en"}, "sources": []any{"a"},
		}},
		{name: "int number", args: map[string]any{"query": "go", "limit": 3}},
		{name: "missing required", args: map[string]any{"limit": 1.0}, wantErr: "required argument 'query' is missing"},
		{name: "wrong type", args: map[string]any{"query": 7.0}, wantErr: "argument 'query' must be of type 'string', got 'number'"},
		{name: "null value", args: map[string]any{"query": "go", "exact": nil}, wantErr: "got 'null'"},
		{name: "undeclared args pass", args: map[string]any{"query": "go", "extra": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(spec, tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidArguments)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExecuteInvalidArgumentsSkipsTool(t *testing.T) {
	r := NewRegistry()
	called := false
	r.MustRegister(Func{
		Def: Spec{ID: "strict", Args: []ArgSpec{{Name: "n", Type: TypeNumber, Required: true}}},
		Fn: func(context.Context, map[string]any, Context) (Result, error) {
			called = true
			return Succeeded(nil), nil
		},
	})

	_, err := r.Execute(context.Background(), "strict", map[string]any{"n": "one"}, Context{})
	assert.ErrorIs(t, err, ErrInvalidArguments)
	assert.False(t, called)
}

func TestExecuteToolErrorBecomesFailedResult(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Func{
		Def: Spec{ID: "broken"},
		Fn: func(context.Context, map[string]any, Context) (Result, error) {
			return Result{}, errors.New("disk unavailable")
		},
	})

	res, err := r.Execute(context.Background(), "broken", nil, Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "disk unavailable", res.Error)
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Func{
		Def: Spec{ID: "panicky"},
		Fn: func(context.Context, map[string]any, Context) (Result, error) {
			panic("boom")
		},
	})

	res, err := r.Execute(context.Background(), "panicky", nil, Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool panicked: boom")
}

func TestExecuteAppliesTimeout(t *testing.T) {
	r := NewRegistry(WithTimeout(50 * time.Millisecond))
	r.MustRegister(Func{
		Def: Spec{ID: "stuck"},
		Fn: func(ctx context.Context, _ map[string]any, _ Context) (Result, error) {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(5 * time.Second):
				return Succeeded("late"), nil
			}
		},
	})

	start := time.Now()
	res, err := r.Execute(context.Background(), "stuck", nil, Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSpecsSortedWithSignatures(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Func{Def: Spec{ID: "zeta", Args: []ArgSpec{{Name: "x", Type: TypeNumber}}}})
	r.MustRegister(Echo())

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "echo", specs[0].ID)
	assert.Equal(t, "echo(text string) - Returns the given text unchanged", specs[0].Signature())
	assert.Equal(t, "zeta(x number?)", specs[1].Signature())
}
