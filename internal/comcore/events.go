package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

type eventPush struct {
	Group    string      `json:"group"`
	Calendar int64       `json:"calendar"`
	Event    store.Event `json:"event"`
}

type eventDeletedPush struct {
	Group    string `json:"group"`
	Calendar int64  `json:"calendar"`
	ID       int64  `json:"id"`
}

// addEvent creates a calendar event. In groups with requireApproval set,
// events created by regular users start unapproved.
func (e *Engine) addEvent(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group       string `json:"group"`
		Calendar    int64  `json:"calendar"`
		Description string `json:"description"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Description == "" {
		return nil, Errorf("description is required")
	}
	if req.Start < 1 {
		return nil, Errorf("start must be positive")
	}
	if req.End < req.Start {
		return nil, Errorf("end must not precede start")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Calendar, store.ModuleCal); err != nil {
		return nil, err
	}
	if err := e.requireNotMuted(ctx, req.Group, userID); err != nil {
		return nil, err
	}

	role, err := e.store.GetRole(ctx, req.Group, userID)
	if err != nil {
		return nil, err
	}
	approved := true
	if role == store.RoleUser {
		infos, err := e.store.GetGroupInfo(ctx, userID, []string{req.Group}, 0)
		if err != nil {
			return nil, err
		}
		if len(infos) == 1 && infos[0].RequireApproval {
			approved = false
		}
	}

	event, err := e.store.CreateEvent(ctx, req.Group, req.Calendar, userID,
		req.Description, req.Start, req.End, approved)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushEvent,
		eventPush{Group: req.Group, Calendar: req.Calendar, Event: *event}, c)
	return event, nil
}

// getEvents lists a calendar module's events, pending ones included.
func (e *Engine) getEvents(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Calendar int64  `json:"calendar"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Calendar, store.ModuleCal); err != nil {
		return nil, err
	}

	events, err := e.store.GetEvents(ctx, req.Group, req.Calendar)
	if err != nil {
		return nil, err
	}
	return struct {
		Events []store.Event `json:"events"`
	}{Events: events}, nil
}

// approveEvent approves a pending event, or rejects (deletes) it when
// approve is false. Rejecting an already-approved event is a no-op.
func (e *Engine) approveEvent(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Calendar int64  `json:"calendar"`
		ID       int64  `json:"id"`
		Approve  *bool  `json:"approve"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Approve == nil {
		return nil, Errorf("approve is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}
	if err := e.store.CheckModuleInGroup(ctx, store.ModuleCal, req.Calendar, req.Group); err != nil {
		return nil, err
	}

	event, deleted, err := e.store.ApproveEvent(ctx, req.Group, req.Calendar, req.ID, *req.Approve)
	if err != nil {
		return nil, err
	}

	if deleted {
		e.pushGroup(ctx, req.Group, PushEventDeleted,
			eventDeletedPush{Group: req.Group, Calendar: req.Calendar, ID: req.ID}, c)
		return empty{}, nil
	}
	e.pushGroup(ctx, req.Group, PushEventApproved,
		eventPush{Group: req.Group, Calendar: req.Calendar, Event: *event}, c)
	return event, nil
}

// eventWriteAllowed validates that the caller authored the event or
// strictly outranks its author.
func (e *Engine) eventWriteAllowed(ctx context.Context, group string, module, id int64, userID string) error {
	event, err := e.store.GetEvent(ctx, group, module, id)
	if err != nil {
		return err
	}
	if event.Sender == userID {
		return nil
	}
	actorRole, err := e.store.GetRole(ctx, group, userID)
	if err != nil {
		return err
	}
	senderRole, _ := e.store.GetRole(ctx, group, event.Sender)
	if !actorRole.MorePowerful(senderRole) {
		return Errorf("requires a more powerful role than the author")
	}
	return nil
}

// updateEvent edits an event's description and times.
func (e *Engine) updateEvent(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group       string `json:"group"`
		Calendar    int64  `json:"calendar"`
		ID          int64  `json:"id"`
		Description string `json:"description"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Description == "" {
		return nil, Errorf("description is required")
	}
	if req.Start < 1 {
		return nil, Errorf("start must be positive")
	}
	if req.End < req.Start {
		return nil, Errorf("end must not precede start")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Calendar, store.ModuleCal); err != nil {
		return nil, err
	}
	if err := e.eventWriteAllowed(ctx, req.Group, req.Calendar, req.ID, userID); err != nil {
		return nil, err
	}

	event, err := e.store.EditEvent(ctx, req.Group, req.Calendar, req.ID,
		req.Description, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushEventUpdated,
		eventPush{Group: req.Group, Calendar: req.Calendar, Event: *event}, c)
	return event, nil
}

// deleteEvent removes an event.
func (e *Engine) deleteEvent(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Calendar int64  `json:"calendar"`
		ID       int64  `json:"id"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Calendar, store.ModuleCal); err != nil {
		return nil, err
	}
	if err := e.eventWriteAllowed(ctx, req.Group, req.Calendar, req.ID, userID); err != nil {
		return nil, err
	}

	if err := e.store.DeleteEvent(ctx, req.Group, req.Calendar, req.ID); err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushEventDeleted,
		eventDeletedPush{Group: req.Group, Calendar: req.Calendar, ID: req.ID}, c)
	return empty{}, nil
}

// setBulletin pins or unpins an event as the group's bulletin entry.
func (e *Engine) setBulletin(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Calendar int64  `json:"calendar"`
		ID       int64  `json:"id"`
		Bulletin *bool  `json:"bulletin"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Bulletin == nil {
		return nil, Errorf("bulletin is required")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}
	if err := e.store.CheckModuleInGroup(ctx, store.ModuleCal, req.Calendar, req.Group); err != nil {
		return nil, err
	}

	event, err := e.store.SetBulletinEvent(ctx, req.Group, req.Calendar, req.ID, *req.Bulletin)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushSetBulletin,
		eventPush{Group: req.Group, Calendar: req.Calendar, Event: *event}, c)
	return event, nil
}
