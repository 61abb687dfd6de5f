package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

type taskPush struct {
	Group    string     `json:"group"`
	TaskList int64      `json:"taskList"`
	Task     store.Task `json:"task"`
}

type taskDeletedPush struct {
	Group    string `json:"group"`
	TaskList int64  `json:"taskList"`
	ID       int64  `json:"id"`
}

// addTask creates a task in a task module.
func (e *Engine) addTask(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group       string `json:"group"`
		TaskList    int64  `json:"taskList"`
		Description string `json:"description"`
		Deadline    int64  `json:"deadline"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Description == "" {
		return nil, Errorf("description is required")
	}
	if req.Deadline < 0 {
		return nil, Errorf("deadline must not be negative")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.TaskList, store.ModuleTask); err != nil {
		return nil, err
	}
	if err := e.requireNotMuted(ctx, req.Group, userID); err != nil {
		return nil, err
	}

	task, err := e.store.CreateTask(ctx, req.Group, req.TaskList, userID, req.Description, req.Deadline)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushTask,
		taskPush{Group: req.Group, TaskList: req.TaskList, Task: *task}, c)
	return task, nil
}

// getTasks lists a task module's tasks.
func (e *Engine) getTasks(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		TaskList int64  `json:"taskList"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.TaskList, store.ModuleTask); err != nil {
		return nil, err
	}

	tasks, err := e.store.GetTasks(ctx, req.Group, req.TaskList)
	if err != nil {
		return nil, err
	}
	return struct {
		Tasks []store.Task `json:"tasks"`
	}{Tasks: tasks}, nil
}

// updateTaskStatus marks a task completed or not. Any unmuted member may
// flip the status.
func (e *Engine) updateTaskStatus(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group     string `json:"group"`
		TaskList  int64  `json:"taskList"`
		ID        int64  `json:"id"`
		Completed *bool  `json:"completed"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Completed == nil {
		return nil, Errorf("completed is required")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.TaskList, store.ModuleTask); err != nil {
		return nil, err
	}
	if err := e.requireNotMuted(ctx, req.Group, userID); err != nil {
		return nil, err
	}

	task, err := e.store.UpdateTaskStatus(ctx, req.Group, req.TaskList, req.ID, *req.Completed)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushTaskUpdated,
		taskPush{Group: req.Group, TaskList: req.TaskList, Task: *task}, c)
	return task, nil
}

// taskWriteAllowed validates that the caller authored the task or strictly
// outranks its author.
func (e *Engine) taskWriteAllowed(ctx context.Context, group string, module, id int64, userID string) error {
	task, err := e.store.GetTask(ctx, group, module, id)
	if err != nil {
		return err
	}
	if task.Sender == userID {
		return nil
	}
	actorRole, err := e.store.GetRole(ctx, group, userID)
	if err != nil {
		return err
	}
	senderRole, _ := e.store.GetRole(ctx, group, task.Sender)
	if !actorRole.MorePowerful(senderRole) {
		return Errorf("requires a more powerful role than the author")
	}
	return nil
}

// updateTaskDeadline changes a task's deadline.
func (e *Engine) updateTaskDeadline(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		TaskList int64  `json:"taskList"`
		ID       int64  `json:"id"`
		Deadline int64  `json:"deadline"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Deadline < 0 {
		return nil, Errorf("deadline must not be negative")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.TaskList, store.ModuleTask); err != nil {
		return nil, err
	}
	if err := e.taskWriteAllowed(ctx, req.Group, req.TaskList, req.ID, userID); err != nil {
		return nil, err
	}

	task, err := e.store.UpdateTaskDeadline(ctx, req.Group, req.TaskList, req.ID, req.Deadline)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushTaskUpdated,
		taskPush{Group: req.Group, TaskList: req.TaskList, Task: *task}, c)
	return task, nil
}

// deleteTask removes a task.
func (e *Engine) deleteTask(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		TaskList int64  `json:"taskList"`
		ID       int64  `json:"id"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.TaskList, store.ModuleTask); err != nil {
		return nil, err
	}
	if err := e.taskWriteAllowed(ctx, req.Group, req.TaskList, req.ID, userID); err != nil {
		return nil, err
	}

	if err := e.store.DeleteTask(ctx, req.Group, req.TaskList, req.ID); err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushTaskDeleted,
		taskDeletedPush{Group: req.Group, TaskList: req.TaskList, ID: req.ID}, c)
	return empty{}, nil
}
