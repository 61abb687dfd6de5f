package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

// createModule adds a typed module to a group. Unknown types are accepted
// as custom modules.
func (e *Engine) createModule(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group string           `json:"group"`
		Name  string           `json:"name"`
		Type  store.ModuleType `json:"type"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, Errorf("name is required")
	}
	if req.Type == "" {
		return nil, Errorf("type is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}

	id, err := e.store.CreateModule(ctx, req.Group, req.Name, req.Type)
	if err != nil {
		return nil, err
	}
	return struct {
		ID int64 `json:"id"`
	}{ID: id}, nil
}

// getModules lists a group's modules.
func (e *Engine) getModules(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group string `json:"group"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, userID, req.Group); err != nil {
		return nil, err
	}

	modules, err := e.store.GetModules(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	return struct {
		Modules []store.ModuleInfo `json:"modules"`
	}{Modules: modules}, nil
}

// getModuleInfo describes specific modules of a group.
func (e *Engine) getModuleInfo(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group   string  `json:"group"`
		Modules []int64 `json:"modules"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, userID, req.Group); err != nil {
		return nil, err
	}

	infos, err := e.store.GetModuleInfo(ctx, req.Group, req.Modules)
	if err != nil {
		return nil, err
	}
	return struct {
		Modules []store.ModuleInfo `json:"modules"`
	}{Modules: infos}, nil
}

// setRequireApproval toggles whether regular users' calendar events need
// moderator approval.
func (e *Engine) setRequireApproval(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group           string `json:"group"`
		RequireApproval *bool  `json:"requireApproval"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.RequireApproval == nil {
		return nil, Errorf("requireApproval is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}

	if err := e.store.SetRequireApproval(ctx, req.Group, *req.RequireApproval); err != nil {
		return nil, err
	}
	return empty{}, nil
}

// setModuleEnabled enables or disables a module.
func (e *Engine) setModuleEnabled(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group   string `json:"group"`
		ID      int64  `json:"id"`
		Enabled *bool  `json:"enabled"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Enabled == nil {
		return nil, Errorf("enabled is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}

	if err := e.store.SetModuleEnabled(ctx, req.Group, req.ID, *req.Enabled); err != nil {
		return nil, err
	}
	return empty{}, nil
}
