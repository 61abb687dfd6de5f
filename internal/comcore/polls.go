package comcore

import (
	"context"
	"encoding/json"

	"github.com/infodancer/comcore/internal/store"
)

type pollPush struct {
	Group    string     `json:"group"`
	PollList int64      `json:"pollList"`
	Poll     store.Poll `json:"poll"`
}

// addPoll creates a poll in a poll module.
func (e *Engine) addPoll(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group       string   `json:"group"`
		PollList    int64    `json:"pollList"`
		Description string   `json:"description"`
		Options     []string `json:"options"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Description == "" {
		return nil, Errorf("description is required")
	}
	if len(req.Options) == 0 {
		return nil, Errorf("options are required")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.PollList, store.ModulePoll); err != nil {
		return nil, err
	}
	if err := e.requireNotMuted(ctx, req.Group, userID); err != nil {
		return nil, err
	}

	poll, err := e.store.CreatePoll(ctx, req.Group, req.PollList, userID, req.Description, req.Options)
	if err != nil {
		return nil, err
	}

	e.pushGroup(ctx, req.Group, PushPoll,
		pollPush{Group: req.Group, PollList: req.PollList, Poll: *poll}, c)
	return poll, nil
}

// getPolls lists a poll module's polls with current vote counts.
func (e *Engine) getPolls(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		PollList int64  `json:"pollList"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := e.requireModule(ctx, userID, req.Group, req.PollList, store.ModulePoll); err != nil {
		return nil, err
	}

	polls, err := e.store.GetPolls(ctx, req.Group, req.PollList)
	if err != nil {
		return nil, err
	}
	return struct {
		Polls []store.Poll `json:"polls"`
	}{Polls: polls}, nil
}

// voteOnPoll records the caller's vote. Voting again moves the vote.
func (e *Engine) voteOnPoll(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group    string `json:"group"`
		PollList int64  `json:"pollList"`
		ID       int64  `json:"id"`
		Option   int    `json:"option"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Option < 0 {
		return nil, Errorf("option must not be negative")
	}
	if err := e.requireModule(ctx, userID, req.Group, req.PollList, store.ModulePoll); err != nil {
		return nil, err
	}

	if err := e.store.Vote(ctx, req.Group, req.PollList, req.ID, userID, req.Option); err != nil {
		return nil, err
	}
	return empty{}, nil
}
