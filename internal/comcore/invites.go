package comcore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/infodancer/comcore/internal/crypto"
	"github.com/infodancer/comcore/internal/store"
)

const (
	inviteCodeLength = 10
	// Invite links are honored briefly past expiry to tolerate clock skew.
	inviteExpiryGrace = 30 * time.Second
	// Non-zero expiries are clamped to at least this far in the future.
	inviteMinLifetime = 2 * time.Minute
)

// createInviteLink generates a shareable join code for a group.
// An expire of zero means the link never expires.
func (e *Engine) createInviteLink(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string `json:"group"`
		Expire int64  `json:"expire"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Expire < 0 {
		return nil, Errorf("expire must not be negative")
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}

	expire := req.Expire
	if expire != 0 {
		if min := e.now().Add(inviteMinLifetime).UnixMilli(); expire < min {
			expire = min
		}
	}

	code, err := crypto.HumanCode(inviteCodeLength)
	if err != nil {
		return nil, err
	}
	if err := e.store.AddGroupInviteCode(ctx, req.Group, code, expire); err != nil {
		return nil, err
	}

	return struct {
		Link string `json:"link"`
	}{Link: e.inviteURL(code)}, nil
}

func (e *Engine) inviteURL(code string) string {
	if e.joinBaseURL == "" {
		return code
	}
	return strings.TrimRight(e.joinBaseURL, "/") + "/join/" + code
}

// inviteCodeOf extracts the code from a link, accepting either a bare code
// or a full URL whose last path segment is the code.
func inviteCodeOf(link string) string {
	link = strings.TrimRight(strings.TrimSpace(link), "/")
	if idx := strings.LastIndex(link, "/"); idx >= 0 {
		return link[idx+1:]
	}
	return link
}

// inviteLive reports whether a link is still accepted, including the
// post-expiry grace window.
func (e *Engine) inviteLive(link *store.InviteLink) bool {
	if link.ExpireAt == 0 {
		return true
	}
	deadline := time.UnixMilli(link.ExpireAt).Add(inviteExpiryGrace)
	return !e.now().After(deadline)
}

// useInviteLink joins the caller to the link's group as a regular user.
// Unknown or expired links reply with a null id.
func (e *Engine) useInviteLink(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Link string `json:"link"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	link, err := e.store.CheckInviteCode(ctx, inviteCodeOf(req.Link))
	if err != nil {
		return nil, err
	}
	if link == nil || !e.inviteLive(link) {
		return joinReply{}, nil
	}

	if err := e.store.JoinGroup(ctx, userID, link.GroupID); err != nil {
		return nil, err
	}
	return joinReply{ID: &link.GroupID}, nil
}

type joinReply struct {
	ID *string `json:"id"`
}

// checkInviteLink describes a link without joining. Accepted in any state.
func (e *Engine) checkInviteLink(ctx context.Context, data json.RawMessage) (any, error) {
	var req struct {
		Link string `json:"link"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	link, err := e.store.CheckInviteCode(ctx, inviteCodeOf(req.Link))
	if err != nil {
		return nil, err
	}
	if link == nil || !e.inviteLive(link) {
		return checkLinkReply{Valid: false}, nil
	}

	name, err := e.store.GetGroupName(ctx, link.GroupID)
	if err != nil {
		return nil, err
	}
	return checkLinkReply{Valid: true, Name: name, Expire: link.ExpireAt}, nil
}

// CheckLink resolves an invite code for the web join page.
func (e *Engine) CheckLink(ctx context.Context, code string) (string, bool, error) {
	link, err := e.store.CheckInviteCode(ctx, code)
	if err != nil {
		return "", false, err
	}
	if link == nil || !e.inviteLive(link) {
		return "", false, nil
	}
	name, err := e.store.GetGroupName(ctx, link.GroupID)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

type checkLinkReply struct {
	Valid  bool   `json:"valid"`
	Name   string `json:"name,omitempty"`
	Expire int64  `json:"expire,omitempty"`
}

// sendInvite invites another user to a group by email. Re-inviting an
// already-pending target replies sent but pushes nothing.
func (e *Engine) sendInvite(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group string `json:"group"`
		Email string `json:"email"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if _, err := e.requireRole(ctx, req.Group, userID, store.RoleModerator); err != nil {
		return nil, err
	}

	target, err := e.store.LookupAccount(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, Errorf("no account with that email")
	}
	if err := e.store.CheckUserInGroup(ctx, target.ID, req.Group); err == nil {
		return nil, Errorf("user is already a member")
	}

	groupName, err := e.store.GetGroupName(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	inviterName, err := e.store.GetUserName(ctx, userID)
	if err != nil {
		return nil, err
	}

	invite := store.Invite{
		UserID:      target.ID,
		GroupID:     req.Group,
		GroupName:   groupName,
		InviterName: inviterName,
	}
	created, err := e.store.SendInvite(ctx, invite)
	if err != nil {
		return nil, err
	}
	if created {
		e.registry.Forward(target.ID, PushInvite, invite, nil)
	}
	return sentReply{Sent: true}, nil
}

// getInvites lists the caller's pending invitations.
func (e *Engine) getInvites(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	invites, err := e.store.GetInvites(ctx, userID)
	if err != nil {
		return nil, err
	}
	return struct {
		Invites []store.Invite `json:"invites"`
	}{Invites: invites}, nil
}

// replyToInvite accepts or rejects a pending invitation.
func (e *Engine) replyToInvite(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Group  string `json:"group"`
		Accept bool   `json:"accept"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	if err := e.store.ReplyToInvite(ctx, userID, req.Group, req.Accept); err != nil {
		return nil, err
	}
	return empty{}, nil
}
