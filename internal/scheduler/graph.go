package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskflow/internal/task"
)

// Source is the read side of task storage the graph walks.
type Source interface {
	FindByID(ctx context.Context, id string) (*task.Task, error)
	// FindDependents returns the tasks that list id as a dependency.
	FindDependents(ctx context.Context, id string) ([]*task.Task, error)
}

// Graph answers dependency questions over the tasks held by a Source.
// It keeps no state of its own, so it never drifts from storage.
type Graph struct {
	src Source
}

// NewGraph creates a Graph reading from src.
func NewGraph(src Source) *Graph {
	return &Graph{src: src}
}

// AddDependency makes t depend on depID after checking that depID exists and
// that the new edge keeps the graph acyclic. Only t is mutated; persisting it
// is up to the caller.
func (g *Graph) AddDependency(ctx context.Context, t *task.Task, depID string) error {
	if depID == t.ID() {
		return &task.ValidationError{TaskID: t.ID(), Field: "dependencies", Reason: "task cannot depend on itself"}
	}
	if t.HasDependency(depID) {
		return nil
	}
	if _, err := g.src.FindByID(ctx, depID); err != nil {
		return err
	}

	path, err := g.dependentPath(ctx, t.ID(), depID)
	if err != nil {
		return err
	}
	if path != nil {
		return &task.CircularDependencyError{TaskID: t.ID(), DependencyID: depID, Path: path}
	}
	return t.AddDependency(depID)
}

// RemoveDependency drops depID from t. Idempotent.
func (g *Graph) RemoveDependency(t *task.Task, depID string) {
	t.RemoveDependency(depID)
}

// dependentPath runs a BFS from `from` over the depends-on-me relation and
// returns the chain of ids leading to `to`, or nil when `to` is unreachable.
// If `to` already transitively depends on `from`, making `from` depend on
// `to` would close a cycle.
func (g *Graph) dependentPath(ctx context.Context, from, to string) ([]string, error) {
	parent := map[string]string{from: ""}
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dependents, err := g.src.FindDependents(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to load dependents of %s: %w", current, err)
		}
		for _, d := range dependents {
			id := d.ID()
			if _, seen := parent[id]; seen {
				continue
			}
			parent[id] = current
			if id == to {
				return buildPath(parent, from, to), nil
			}
			queue = append(queue, id)
		}
	}
	return nil, nil
}

func buildPath(parent map[string]string, from, to string) []string {
	var path []string
	for id := to; id != from; id = parent[id] {
		path = append(path, id)
	}
	path = append(path, from)
	slices.Reverse(path)
	return path
}

// DependenciesMet reports whether every dependency of t is COMPLETED.
// The second result lists the dependencies that are not, in dependency
// order. A dependency that no longer exists counts as unmet.
func (g *Graph) DependenciesMet(ctx context.Context, t *task.Task) (bool, []string, error) {
	var unmet []string
	for _, depID := range t.Dependencies() {
		dep, err := g.src.FindByID(ctx, depID)
		if errors.Is(err, task.ErrNotFound) {
			unmet = append(unmet, depID)
			continue
		}
		if err != nil {
			return false, nil, err
		}
		if dep.Status() != task.StatusCompleted {
			unmet = append(unmet, depID)
		}
	}
	return len(unmet) == 0, unmet, nil
}

// Dependents returns the tasks that depend directly on id.
func (g *Graph) Dependents(ctx context.Context, id string) ([]*task.Task, error) {
	return g.src.FindDependents(ctx, id)
}

// Plan orders tasks so that every task comes after the dependencies it shares
// with the set. Dependencies outside the set are treated as already satisfied.
// Tasks at the same depth are ordered by priority (highest first), then
// creation time. Returns an error if the set contains a cycle.
func Plan(tasks []*task.Task) ([]*task.Task, error) {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID()] = t
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		edges = append(edges, toposort.Edge{nil, t.ID()})
		for _, depID := range t.Dependencies() {
			if _, inSet := byID[depID]; inSet {
				edges = append(edges, toposort.Edge{depID, t.ID()})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains a cycle: %w", err)
	}

	// Depth is the longest dependency chain inside the set. Walking in
	// topological order means every dependency's depth is final when read.
	depth := make(map[string]int, len(tasks))
	for _, v := range sorted {
		id, ok := v.(string)
		if !ok {
			continue
		}
		d := 0
		for _, depID := range byID[id].Dependencies() {
			if _, inSet := byID[depID]; inSet && depth[depID]+1 > d {
				d = depth[depID] + 1
			}
		}
		depth[id] = d
	}

	ordered := slices.Clone(tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if depth[a.ID()] != depth[b.ID()] {
			return depth[a.ID()] < depth[b.ID()]
		}
		if a.Priority() != b.Priority() {
			return a.Priority().Rank() > b.Priority().Rank()
		}
		if !a.CreatedAt().Equal(b.CreatedAt()) {
			return a.CreatedAt().Before(b.CreatedAt())
		}
		return a.ID() < b.ID()
	})
	return ordered, nil
}
