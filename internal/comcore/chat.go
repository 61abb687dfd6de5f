package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

const (
	messageWindow = 50
	// Upper id bound used when the client passes no window.
	maxItemID = int64(1) << 53
)

type messagePush struct {
	Group   string        `json:"group"`
	Chat    int64         `json:"chat"`
	Message store.Message `json:"message"`
}

// sendMessage appends a message to a chat module and fans it out to the
// group.
func (e *Engine) sendMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Chat     int64  `json:"chat"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Contents == "" {
		return nil, Errorf("contents is required")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Chat, store.ModuleChat); err != nil {
		return nil, err
	}
	if err := e.requireNotMuted(ctx, req.Group, userID); err != nil {
		return nil, err
	}

	msg, err := e.store.SendMessage(ctx, req.Group, req.Chat, userID, req.Contents)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushMessage,
		messagePush{Group: req.Group, Chat: req.Chat, Message: *msg}, c)
	return msg, nil
}

// getMessages returns up to 50 of the most recent messages with ids inside
// the (after, before) window, ascending. Out-of-range bounds are clamped.
func (e *Engine) getMessages(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string `json:"group"`
		Chat   int64  `json:"chat"`
		After  int64  `json:"after"`
		Before int64  `json:"before"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Chat, store.ModuleChat); err != nil {
		return nil, err
	}

	after := req.After
	if after < 1 {
		after = 0
	}
	before := req.Before
	if before < 1 {
		before = maxItemID
	}

	msgs, err := e.store.GetMessages(ctx, req.Group, req.Chat, after, before, messageWindow)
	if err != nil {
		return nil, err
	}
	return struct {
		Messages []store.Message `json:"messages"`
	}{Messages: msgs}, nil
}

// updateMessage edits or deletes a message. Authors may edit their own;
// a strictly more powerful member may delete (empty contents) someone
// else's. Deleted messages cannot be touched again.
func (e *Engine) updateMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Chat     int64  `json:"chat"`
		ID       int64  `json:"id"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Chat, store.ModuleChat); err != nil {
		return nil, err
	}

	msg, err := e.store.GetMessage(ctx, req.Group, req.Chat, req.ID)
	if err != nil {
		return nil, err
	}

	if msg.Sender != userID {
		if req.Contents != "" {
			return nil, Errorf("only the author may edit a message")
		}
		actorRole, err := e.store.GetRole(ctx, req.Group, userID)
		if err != nil {
			return nil, err
		}
		// The sender may have left the group; an absent member ranks lowest.
		senderRole, _ := e.store.GetRole(ctx, req.Group, msg.Sender)
		if !actorRole.MorePowerful(senderRole) {
			return nil, Errorf("requires a more powerful role than the author")
		}
	}

	updated, err := e.store.EditMessage(ctx, req.Group, req.Chat, req.ID, req.Contents)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushMessageUpdate,
		messagePush{Group: req.Group, Chat: req.Chat, Message: *updated}, c)
	return updated, nil
}

// setReaction sets, replaces, or removes (empty reaction) the caller's
// reaction on a message.
func (e *Engine) setReaction(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		Chat     int64  `json:"chat"`
		ID       int64  `json:"id"`
		Reaction string `json:"reaction"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.Chat, store.ModuleChat); err != nil {
		return nil, err
	}

	reactions, err := e.store.SetReaction(ctx, req.Group, req.Chat, req.ID, userID, req.Reaction)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushReaction, reactionPush{
		Group:     req.Group,
		Chat:      req.Chat,
		ID:        req.ID,
		Reactions: reactions,
	}, c)
	return struct {
		Reactions []store.Reaction `json:"reactions"`
	}{Reactions: reactions}, nil
}

type reactionPush struct {
	Group     string           `json:"group"`
	Chat      int64            `json:"chat"`
	ID        int64            `json:"id"`
	Reactions []store.Reaction `json:"reactions"`
}
