package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

type idReply struct {
	ID string `json:"id"`
}

// createGroup creates a group with the caller as owner.
func (e *Engine) createGroup(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, Errorf("name is required")
	}

	id, err := e.store.CreateGroup(ctx, userID, req.Name)
	if err != nil {
		return nil, err
	}
	return idReply{ID: id}, nil
}

// createSubGroup creates a group from a subset of an existing group's
// members. Only the parent group's owner may do this; the new group
// inherits the parent's requireApproval setting.
func (e *Engine) createSubGroup(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group string   `json:"group"`
		Name  string   `json:"name"`
		Users []string `json:"users"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, Errorf("name is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleOwner); err != nil {
		return nil, err
	}

	id, err := e.store.CreateSubGroup(ctx, userID, req.Group, req.Name, req.Users)
	if err != nil {
		return nil, err
	}
	return idReply{ID: id}, nil
}

// getGroups lists the caller's groups.
func (e *Engine) getGroups(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	groups, err := e.store.GetGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	return struct {
		Groups []store.GroupEntry `json:"groups"`
	}{Groups: groups}, nil
}

// getGroupInfo returns full descriptions of the requested groups, skipping
// ones not modified since lastRefresh.
func (e *Engine) getGroupInfo(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Groups      []string `json:"groups"`
		LastRefresh int64    `json:"lastRefresh"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	infos, err := e.store.GetGroupInfo(ctx, userID, req.Groups, req.LastRefresh)
	if err != nil {
		return nil, err
	}
	return struct {
		Groups []store.GroupInfo `json:"groups"`
	}{Groups: infos}, nil
}

// getUsers lists the members of a group the caller belongs to.
func (e *Engine) getUsers(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
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

	users, err := e.store.GetUsers(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	return struct {
		Users []store.Member `json:"users"`
	}{Users: users}, nil
}

// getUserInfo returns one member's record in a group.
func (e *Engine) getUserInfo(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group string `json:"group"`
		User  string `json:"user"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, userID, req.Group); err != nil {
		return nil, err
	}

	member, err := e.store.GetUserInfo(ctx, req.Group, req.User)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// leaveGroup removes the caller from a group. The sole member leaving
// deletes the group and everything in it.
func (e *Engine) leaveGroup(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
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

	if _, err := e.store.LeaveGroup(ctx, userID, req.Group); err != nil {
		return nil, err
	}
	return empty{}, nil
}

type groupPush struct {
	Group string `json:"group"`
}

// kick removes another member from a group. The actor must strictly
// outrank the target.
func (e *Engine) kick(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string `json:"group"`
		Target string `json:"target"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireOverTarget(ctx, req.Group, userID, req.Target); err != nil {
		return nil, err
	}

	if err := e.store.Kick(ctx, req.Group, req.Target); err != nil {
		return nil, err
	}
	e.registry.Forward(req.Target, PushKicked, groupPush{Group: req.Group}, nil)
	return empty{}, nil
}

// setRole changes another member's role. Granting owner transfers
// ownership, demoting the actor to moderator in the same update.
func (e *Engine) setRole(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string     `json:"group"`
		Target string     `json:"target"`
		Role   store.Role `json:"role"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, Errorf("invalid role %q", req.Role)
	}
	if err := e.requireOverTarget(ctx, req.Group, userID, req.Target); err != nil {
		return nil, err
	}

	transfer, err := e.store.SetRole(ctx, req.Group, userID, req.Target, req.Role)
	if err != nil {
		return nil, err
	}

	e.registry.Forward(req.Target, PushRoleChanged, roleChangedPush{Group: req.Group, Role: req.Role}, nil)
	if transfer {
		e.registry.Forward(userID, PushRoleChanged,
			roleChangedPush{Group: req.Group, Role: store.RoleModerator}, c)
	}
	return empty{}, nil
}

type roleChangedPush struct {
	Group string     `json:"group"`
	Role  store.Role `json:"role"`
}

// setMuted mutes or unmutes another member.
func (e *Engine) setMuted(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string `json:"group"`
		Target string `json:"target"`
		Muted  *bool  `json:"muted"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Muted == nil {
		return nil, Errorf("muted is required")
	}
	if err := e.requireOverTarget(ctx, req.Group, userID, req.Target); err != nil {
		return nil, err
	}

	if err := e.store.SetMuted(ctx, req.Group, req.Target, *req.Muted); err != nil {
		return nil, err
	}
	e.registry.Forward(req.Target, PushMutedChanged,
		mutedChangedPush{Group: req.Group, Muted: *req.Muted}, nil)
	return empty{}, nil
}

type mutedChangedPush struct {
	Group string `json:"group"`
	Muted bool   `json:"muted"`
}

// createDirectMessage opens (or returns) the private group shared between
// the caller and another user.
func (e *Engine) createDirectMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		User string `json:"user"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.User == "" {
		return nil, Errorf("user is required")
	}

	group, err := e.store.CreateDirectMessage(ctx, userID, req.User)
	if err != nil {
		return nil, err
	}
	return idReply{ID: group}, nil
}
