// Package tools defines the task-management tools available to the agent.
//
// The registry is the single binding between a tool's external name, the
// schema advertised to the model, and the store operation executed when
// the model selects it. The set of tools is closed: it is built once at
// construction and unknown names fall through to a structured error
// result rather than an execution failure.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/colmb/taskchat/internal/store"
)

// Result strings fed back to the model. Raw error details never appear
// here; they are logged instead.
const (
	msgTaskNotFound  = "Task not found"
	msgInvalidArgs   = "Invalid tool arguments"
	msgInternalError = "An internal error occurred while processing your request."
)

const maxTitleLen = 500

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, userID string, args map[string]any) (any, error)
}

// Registry holds the available tools and the store they operate on.
type Registry struct {
	tools  map[string]*Tool
	store  *store.Store
	logger *slog.Logger
}

// NewRegistry creates a registry with the full task tool set.
func NewRegistry(st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		store:  st,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.register(&Tool{
		Name:        "add_task",
		Description: "Create a new task for the user. Use when the user wants to add, create, or make a new task or todo item.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the task to create",
				},
			},
			"required": []string{"title"},
		},
		Handler: r.handleAddTask,
	})

	r.register(&Tool{
		Name:        "list_tasks",
		Description: "List the user's tasks. Use when the user wants to see, view, show, or check their tasks or todo items. Can filter by status.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"pending", "completed"},
					"description": "Optional filter: 'pending' for incomplete tasks, 'completed' for done tasks. Omit to list all tasks.",
				},
			},
			"required": []string{},
		},
		Handler: r.handleListTasks,
	})

	r.register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as completed/done. Use when the user wants to finish, complete, check off, or mark a task as done.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to mark as completed",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleCompleteTask,
	})

	r.register(&Tool{
		Name:        "delete_task",
		Description: "Delete/remove a task. Use when the user wants to delete, remove, or discard a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to delete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleDeleteTask,
	})

	r.register(&Tool{
		Name:        "update_task",
		Description: "Update/rename a task's title. Use when the user wants to rename, change, edit, or update a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "The new title for the task",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleUpdateTask,
	})
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

// Schemas returns the tool definitions for the model, in stable order.
func (r *Registry) Schemas() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// errInvalidArgs marks argument problems the model can correct. Its text
// is safe to feed back as a result.
type errInvalidArgs struct{ msg string }

func (e errInvalidArgs) Error() string { return e.msg }

// Execute runs a tool by name and always returns a JSON document.
// Every failure mode (unknown tool, malformed arguments, ownership
// mismatch, storage fault) is converted to an {"error": ...} result so
// the conversation can continue; nothing here panics or propagates.
func (r *Registry) Execute(ctx context.Context, userID, name, argsJSON string) string {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Error("unknown tool requested", "tool", name)
		return errorResult(fmt.Sprintf("Unknown tool: %s", name))
	}

	if userID == "" {
		r.logger.Error("tool dispatch without caller identity", "tool", name)
		return errorResult(msgInternalError)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			// The model emitted broken JSON; a specific result gives it
			// something to correct on the next round.
			r.logger.Info("malformed tool arguments", "tool", name, "error", err)
			return errorResult(msgInvalidArgs)
		}
	}

	result, err := tool.Handler(ctx, userID, args)
	if err != nil {
		var invalid errInvalidArgs
		switch {
		case errors.Is(err, store.ErrNotFound):
			return errorResult(msgTaskNotFound)
		case errors.As(err, &invalid):
			r.logger.Info("tool rejected arguments", "tool", name, "reason", invalid.msg)
			return errorResult(invalid.msg)
		default:
			r.logger.Error("tool execution failed", "tool", name, "error", err)
			return errorResult(msgInternalError)
		}
	}

	out, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("tool result marshal failed", "tool", name, "error", err)
		return errorResult(msgInternalError)
	}
	return string(out)
}

func errorResult(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}

// Tool handlers

type taskResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
}

func toTaskResult(t *store.Task) taskResult {
	return taskResult{ID: t.ID, Title: t.Title, IsCompleted: t.IsCompleted}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (r *Registry) handleAddTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return nil, errInvalidArgs{"Task title is required"}
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, errInvalidArgs{fmt.Sprintf("Task title must be at most %d characters", maxTitleLen)}
	}

	task, err := r.store.CreateTask(ctx, userID, title)
	if err != nil {
		return nil, err
	}
	r.logger.Info("add_task", "task", task.ID, "user", userID)
	return toTaskResult(task), nil
}

func (r *Registry) handleListTasks(ctx context.Context, userID string, args map[string]any) (any, error) {
	// Anything other than the two known values behaves like "all",
	// matching the filter semantics of the store.
	filter := store.TaskFilter(stringArg(args, "status"))

	tasks, err := r.store.ListTasks(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	r.logger.Info("list_tasks", "count", len(tasks), "status", string(filter), "user", userID)

	results := make([]taskResult, 0, len(tasks))
	for i := range tasks {
		results = append(results, toTaskResult(&tasks[i]))
	}
	return map[string]any{"tasks": results, "count": len(results)}, nil
}

func (r *Registry) handleCompleteTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	taskID := stringArg(args, "task_id")
	if taskID == "" {
		return nil, errInvalidArgs{"task_id is required"}
	}

	done := true
	task, err := r.store.UpdateTask(ctx, userID, taskID, nil, &done)
	if err != nil {
		return nil, err
	}
	r.logger.Info("complete_task", "task", task.ID, "user", userID)
	return toTaskResult(task), nil
}

func (r *Registry) handleDeleteTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	taskID := stringArg(args, "task_id")
	if taskID == "" {
		return nil, errInvalidArgs{"task_id is required"}
	}

	title, err := r.store.DeleteTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("delete_task", "task", taskID, "user", userID)
	return map[string]any{"deleted": true, "title": title}, nil
}

func (r *Registry) handleUpdateTask(ctx context.Context, userID string, args map[string]any) (any, error) {
	taskID := stringArg(args, "task_id")
	if taskID == "" {
		return nil, errInvalidArgs{"task_id is required"}
	}

	var title *string
	if raw, ok := args["title"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, errInvalidArgs{"title must be a string"}
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errInvalidArgs{"Task title is required"}
		}
		if utf8.RuneCountInString(s) > maxTitleLen {
			return nil, errInvalidArgs{fmt.Sprintf("Task title must be at most %d characters", maxTitleLen)}
		}
		title = &s
	}

	task, err := r.store.UpdateTask(ctx, userID, taskID, title, nil)
	if err != nil {
		return nil, err
	}
	r.logger.Info("update_task", "task", task.ID, "user", userID)
	return toTaskResult(task), nil
}
