package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/lifecycle"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/task"
)

const timeLayout = "2006-01-02 15:04"

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and change tasks",
	}
	cmd.AddCommand(
		newTaskCreateCmd(a),
		newTaskAssignCmd(a),
		newTaskListCmd(a),
		newTaskShowCmd(a),
		newTaskStatsCmd(a),
		newTaskPlanCmd(a),
		newTaskCancelCmd(a),
		newTaskUnblockCmd(a),
	)
	return cmd
}

// withService runs fn against a lifecycle service over the configured store.
func (a *app) withService(ctx context.Context, fn func(*lifecycle.Service, store) error) error {
	svc, st, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(svc, st)
}

type createOptions struct {
	spec     task.CreateSpec
	priority string
	due      string
	meta     map[string]string
}

func newTaskCreateCmd(a *app) *cobra.Command {
	opts := createOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.priority != "" {
				p, err := task.ParsePriority(opts.priority)
				if err != nil {
					return err
				}
				opts.spec.Priority = p
			}
			if opts.due != "" {
				due, err := parseDue(opts.due, time.Now())
				if err != nil {
					return err
				}
				opts.spec.DueDate = due
			}
			if len(opts.meta) > 0 {
				opts.spec.Metadata = make(map[string]any, len(opts.meta))
				for k, v := range opts.meta {
					opts.spec.Metadata[k] = v
				}
			}

			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				t, err := svc.CreateTask(cmd.Context(), opts.spec)
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Created task %s", t.ID())
				if t.IsAssigned() {
					a.notify(cmd.Context(), t)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.spec.Title, "title", "", "task title")
	f.StringVar(&opts.spec.Description, "description", "", "what the agent should do")
	f.StringVar(&opts.priority, "priority", "", "LOW, MEDIUM, HIGH or CRITICAL (default MEDIUM)")
	f.StringVar(&opts.spec.AssignedAgent, "agent", "", "agent to assign")
	f.StringVar(&opts.spec.ParentID, "parent", "", "parent task id")
	f.StringSliceVar(&opts.spec.Dependencies, "depends-on", nil, "ids of tasks that must complete first")
	f.StringVar(&opts.due, "due", "", `due date ("2006-01-02", RFC 3339, or a duration from now such as "48h")`)
	f.StringToStringVar(&opts.meta, "meta", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// parseDue accepts a date, an RFC 3339 timestamp, or a duration from now.
func parseDue(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, now.Location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", raw)
}

func newTaskAssignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <task-id> <agent-id>",
		Short: "Assign a task to an agent and trigger a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				t, err := svc.AssignTask(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Assigned %s to %s", t.ID(), t.AssignedAgent())
				a.notify(cmd.Context(), t)
				return nil
			})
		},
	}
}

// notify publishes a trigger for t, reporting rather than failing when the
// broker cannot be reached.
func (a *app) notify(ctx context.Context, t *task.Task) {
	err := a.publishTrigger(ctx, queue.Trigger{AgentID: t.AssignedAgent(), TaskID: t.ID()})
	switch {
	case err == nil:
		pterm.Info.Printfln("Triggered %s for %s", t.AssignedAgent(), t.ID())
	case errors.Is(err, errNoBroker):
		pterm.Info.Println(err.Error())
	default:
		pterm.Warning.Printfln("Trigger not published: %v", err)
	}
}

type listOptions struct {
	status   string
	priority string
	agent    string
	parent   string
	overdue  bool
	ready    bool
}

func (o listOptions) filter() (task.Filter, error) {
	f := task.Filter{AgentID: o.agent, ParentID: o.parent}
	if o.status != "" {
		s, err := task.ParseStatus(o.status)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	if o.priority != "" {
		p, err := task.ParsePriority(o.priority)
		if err != nil {
			return f, err
		}
		f.Priority = p
	}
	return f, nil
}

func newTaskListCmd(a *app) *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				var tasks []*task.Task
				switch {
				case opts.ready:
					tasks, err = svc.GetReadyTasks(cmd.Context())
				case opts.overdue:
					tasks, err = svc.GetOverdueTasks(cmd.Context())
				default:
					tasks, err = svc.GetTasks(cmd.Context(), filter)
				}
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.status, "status", "", "only tasks in this status")
	f.StringVar(&opts.priority, "priority", "", "only tasks with this priority")
	f.StringVar(&opts.agent, "agent", "", "only tasks assigned to this agent")
	f.StringVar(&opts.parent, "parent", "", "only subtasks of this task")
	f.BoolVar(&opts.ready, "ready", false, "only PENDING tasks whose dependencies are completed")
	f.BoolVar(&opts.overdue, "overdue", false, "only unfinished tasks past their due date")
	cmd.MarkFlagsMutuallyExclusive("ready", "overdue")
	return cmd
}

func renderTasks(tasks []*task.Task) error {
	if len(tasks) == 0 {
		pterm.Warning.Println("No tasks found.")
		return nil
	}
	data := pterm.TableData{{"ID", "Title", "Status", "Priority", "Agent", "Dependencies", "Due"}}
	for _, t := range tasks {
		data = append(data, []string{
			t.ID(), t.Title(), string(t.Status()), string(t.Priority()),
			t.AssignedAgent(), strings.Join(t.Dependencies(), ","), formatTime(t.DueDate()),
		})
	}
	return pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func newTaskShowCmd(a *app) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and what its agent did",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lifecycle.Service, st store) error {
				t, err := svc.GetTaskByID(ctx, args[0])
				if err != nil {
					return err
				}

				rows := pterm.TableData{
					{"ID", t.ID()},
					{"Title", t.Title()},
					{"Description", t.Description()},
					{"Status", string(t.Status())},
					{"Priority", string(t.Priority())},
					{"Agent", t.AssignedAgent()},
					{"Parent", t.ParentID()},
					{"Dependencies", strings.Join(t.Dependencies(), ", ")},
					{"Created", formatTime(t.CreatedAt())},
					{"Started", formatTime(t.StartedAt())},
					{"Completed", formatTime(t.CompletedAt())},
					{"Due", formatTime(t.DueDate())},
				}
				if reason := t.BlockReason(); reason != "" {
					rows = append(rows, []string{"Blocked", reason})
				}
				if res, ok := t.Result(); ok {
					if res.Success() {
						rows = append(rows, []string{"Result", res.Content()})
					} else {
						rows = append(rows, []string{"Error", res.ErrorMessage()})
					}
				}
				meta := t.Metadata()
				for _, k := range slices.Sorted(maps.Keys(meta)) {
					rows = append(rows, []string{"meta." + k, fmt.Sprint(meta[k])})
				}
				if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
					return err
				}

				met, err := svc.CheckDependenciesMet(ctx, t.ID())
				if err != nil {
					return err
				}
				if !met {
					pterm.Info.Println("Waiting on dependencies")
				}

				entries, err := st.ListByTask(ctx, t.ID(), history)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return nil
				}
				pterm.DefaultSection.Println("Agent memory")
				data := pterm.TableData{{"When", "Agent", "Entry"}}
				for _, e := range entries {
					data = append(data, []string{formatTime(e.CreatedAt), e.AgentID, e.Content})
				}
				return pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Render()
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 20, "memory entries to show (0 for all)")
	return cmd
}

func newTaskStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tasks by status, priority and agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				stats, err := svc.GetTaskStatistics(cmd.Context())
				if err != nil {
					return err
				}
				pterm.Info.Printfln("Total tasks: %d", stats.Total)

				data := pterm.TableData{{"Status", "Count"}}
				for _, s := range task.Statuses {
					data = append(data, []string{string(s), strconv.Itoa(stats.ByStatus[s])})
				}
				if err := pterm.DefaultTable.WithHasHeader(true).WithData(data).Render(); err != nil {
					return err
				}

				data = pterm.TableData{{"Priority", "Count"}}
				for _, p := range slices.Backward(task.Priorities) {
					data = append(data, []string{string(p), strconv.Itoa(stats.ByPriority[p])})
				}
				if err := pterm.DefaultTable.WithHasHeader(true).WithData(data).Render(); err != nil {
					return err
				}

				if len(stats.ByAgent) == 0 {
					return nil
				}
				data = pterm.TableData{{"Agent", "Count"}}
				for _, agent := range slices.Sorted(maps.Keys(stats.ByAgent)) {
					data = append(data, []string{agent, strconv.Itoa(stats.ByAgent[agent])})
				}
				return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
			})
		},
	}
}

func newTaskPlanCmd(a *app) *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show tasks in the order their dependencies allow",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				plan, err := svc.ExecutionPlan(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(plan) == 0 {
					pterm.Warning.Println("No tasks found.")
					return nil
				}
				data := pterm.TableData{{"#", "ID", "Title", "Priority", "Status", "Agent", "After"}}
				for i, t := range plan {
					data = append(data, []string{
						strconv.Itoa(i + 1), t.ID(), t.Title(), string(t.Priority()),
						string(t.Status()), t.AssignedAgent(), strings.Join(t.Dependencies(), ","),
					})
				}
				return pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Render()
			})
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", "", "only tasks in this status")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "only tasks assigned to this agent")
	cmd.Flags().StringVar(&opts.parent, "parent", "", "only subtasks of this task")
	return cmd
}

func newTaskCancelCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				t, err := svc.CancelTask(cmd.Context(), args[0], reason)
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Cancelled %s", t.ID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is cancelled")
	return cmd
}

func newTaskUnblockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <task-id>",
		Short: "Resume a blocked task and trigger a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lifecycle.Service, _ store) error {
				t, err := svc.UnblockTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Unblocked %s", t.ID())
				if t.IsAssigned() {
					a.notify(cmd.Context(), t)
				}
				return nil
			})
		},
	}
}
