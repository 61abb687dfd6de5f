package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemStore is an in-memory implementation of the Store contract.
//
// It backs tests and the default server configuration. All cross-item
// consistency requirements (single owner per group, sequential item ids,
// last-member cascade) hold under a single mutex.
type MemStore struct {
	mu  sync.RWMutex
	now func() time.Time

	accounts map[string]*Account // by user id
	emails   map[string]string   // email -> user id

	groups    map[string]*groupRec
	moduleSeq int64

	invites map[string]map[string]Invite // user id -> group id -> invite
	links   map[string]InviteLink        // code -> link
	directs map[string]string            // sorted user pair -> group id
}

type groupRec struct {
	id              string
	name            string
	members         map[string]*Member
	memberOrder     []string
	requireApproval bool
	modifiedAt      int64
	modules         map[int64]*moduleRec
	moduleOrder     []int64
}

type moduleRec struct {
	info   ModuleInfo
	nextID int64 // next item id; item ids start at 1 and never regress

	messages []*Message
	tasks    []*Task
	events   []*Event
	polls    []*pollRec
}

type pollRec struct {
	poll   Poll
	voters map[string]int // user id -> option index
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		now:      time.Now,
		accounts: make(map[string]*Account),
		emails:   make(map[string]string),
		groups:   make(map[string]*groupRec),
		invites:  make(map[string]map[string]Invite),
		links:    make(map[string]InviteLink),
		directs:  make(map[string]string),
	}
}

// SetClock overrides the store's clock. Intended for tests.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Initialize implements Store.
func (s *MemStore) Initialize(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemStore) Close(ctx context.Context) error { return nil }

// --- accounts ---

// LookupAccount returns the account for an email, or nil if none exists.
func (s *MemStore) LookupAccount(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, nil
	}
	acct := *s.accounts[id]
	return &acct, nil
}

// CreateAccount creates a new account. Fails with ErrDuplicateAccount when
// the email is already registered.
func (s *MemStore) CreateAccount(ctx context.Context, name, email, passwordHash string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[email]; ok {
		return nil, ErrDuplicateAccount
	}

	acct := &Account{
		ID:           ulid.Make().String(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
	}
	s.accounts[acct.ID] = acct
	s.emails[email] = acct.ID

	out := *acct
	return &out, nil
}

func (s *MemStore) account(userID string) (*Account, error) {
	acct, ok := s.accounts[userID]
	if !ok {
		return nil, invalidf("unknown user %s", userID)
	}
	return acct, nil
}

// ResetPassword replaces the stored password hash.
func (s *MemStore) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(userID)
	if err != nil {
		return err
	}
	acct.PasswordHash = passwordHash
	return nil
}

// GetTwoFactor implements Store.
func (s *MemStore) GetTwoFactor(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, err := s.account(userID)
	if err != nil {
		return false, err
	}
	return acct.TwoFactor, nil
}

// SetTwoFactor implements Store.
func (s *MemStore) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(userID)
	if err != nil {
		return err
	}
	acct.TwoFactor = enabled
	return nil
}

// GetAuthToken implements Store.
func (s *MemStore) GetAuthToken(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, err := s.account(userID)
	if err != nil {
		return "", err
	}
	return acct.AuthToken, nil
}

// SetAuthToken implements Store.
func (s *MemStore) SetAuthToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(userID)
	if err != nil {
		return err
	}
	acct.AuthToken = token
	return nil
}

// GetUserName implements Store.
func (s *MemStore) GetUserName(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, err := s.account(userID)
	if err != nil {
		return "", err
	}
	return acct.Name, nil
}

// --- groups and membership ---

func (s *MemStore) group(id string) (*groupRec, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, invalidf("unknown group %s", id)
	}
	return g, nil
}

func (s *MemStore) member(group, userID string) (*groupRec, *Member, error) {
	g, err := s.group(group)
	if err != nil {
		return nil, nil, err
	}
	m, ok := g.members[userID]
	if !ok {
		return nil, nil, invalidf("user %s is not in group %s", userID, group)
	}
	return g, m, nil
}

func (g *groupRec) addMember(userID, name string, role Role) {
	g.members[userID] = &Member{UserID: userID, Name: name, Role: role}
	g.memberOrder = append(g.memberOrder, userID)
}

func (g *groupRec) removeMember(userID string) {
	delete(g.members, userID)
	for i, id := range g.memberOrder {
		if id == userID {
			g.memberOrder = append(g.memberOrder[:i], g.memberOrder[i+1:]...)
			break
		}
	}
}

func (s *MemStore) createGroupLocked(owner *Account, name string, requireApproval bool) *groupRec {
	g := &groupRec{
		id:              ulid.Make().String(),
		name:            name,
		members:         make(map[string]*Member),
		requireApproval: requireApproval,
		modifiedAt:      s.nowMillis(),
		modules:         make(map[int64]*moduleRec),
	}
	g.addMember(owner.ID, owner.Name, RoleOwner)
	s.groups[g.id] = g
	return g
}

// CreateGroup creates a group with the given owner as sole member.
func (s *MemStore) CreateGroup(ctx context.Context, owner, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(owner)
	if err != nil {
		return "", err
	}
	g := s.createGroupLocked(acct, name, false)
	return g.id, nil
}

// CreateSubGroup creates a group from a subset of the parent group's
// members. The new group inherits the parent's requireApproval setting.
func (s *MemStore) CreateSubGroup(ctx context.Context, owner, parent, name string, users []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(owner)
	if err != nil {
		return "", err
	}
	pg, _, err := s.member(parent, owner)
	if err != nil {
		return "", err
	}

	g := s.createGroupLocked(acct, name, pg.requireApproval)
	for _, u := range users {
		if u == owner {
			continue
		}
		pm, ok := pg.members[u]
		if !ok {
			continue // only parent members carry over
		}
		g.addMember(u, pm.Name, RoleUser)
	}
	return g.id, nil
}

// GetGroups lists the groups the user belongs to.
func (s *MemStore) GetGroups(ctx context.Context, userID string) ([]GroupEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.account(userID); err != nil {
		return nil, err
	}

	entries := []GroupEntry{}
	for _, g := range s.groups {
		if _, ok := g.members[userID]; ok {
			entries = append(entries, GroupEntry{ID: g.id, Name: g.name, ModifiedAt: g.modifiedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (g *groupRec) info() GroupInfo {
	info := GroupInfo{
		ID:              g.id,
		Name:            g.name,
		RequireApproval: g.requireApproval,
		ModifiedAt:      g.modifiedAt,
		Members:         make([]Member, 0, len(g.memberOrder)),
		Modules:         make([]ModuleInfo, 0, len(g.moduleOrder)),
	}
	for _, id := range g.memberOrder {
		info.Members = append(info.Members, *g.members[id])
	}
	for _, id := range g.moduleOrder {
		info.Modules = append(info.Modules, g.modules[id].info)
	}
	return info
}

// GetGroupInfo returns full group descriptions for the requested groups the
// user belongs to, skipping groups not modified since lastRefresh. An empty
// group list means all of the user's groups.
func (s *MemStore) GetGroupInfo(ctx context.Context, userID string, groups []string, lastRefresh int64) ([]GroupInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.account(userID); err != nil {
		return nil, err
	}

	candidates := groups
	if len(candidates) == 0 {
		for id := range s.groups {
			candidates = append(candidates, id)
		}
		sort.Strings(candidates)
	}

	infos := []GroupInfo{}
	for _, id := range candidates {
		g, ok := s.groups[id]
		if !ok {
			continue
		}
		if _, ok := g.members[userID]; !ok {
			continue
		}
		if g.modifiedAt <= lastRefresh {
			continue
		}
		infos = append(infos, g.info())
	}
	return infos, nil
}

// GetGroupName implements Store.
func (s *MemStore) GetGroupName(ctx context.Context, group string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.group(group)
	if err != nil {
		return "", err
	}
	return g.name, nil
}

// CheckUserInGroup implements Store.
func (s *MemStore) CheckUserInGroup(ctx context.Context, userID, group string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, _, err := s.member(group, userID)
	return err
}

// GetRole implements Store.
func (s *MemStore) GetRole(ctx context.Context, group, userID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, m, err := s.member(group, userID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// GetMuted implements Store.
func (s *MemStore) GetMuted(ctx context.Context, group, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, m, err := s.member(group, userID)
	if err != nil {
		return false, err
	}
	return m.Muted, nil
}

// GetUsers lists the group's members in join order.
func (s *MemStore) GetUsers(ctx context.Context, group string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(g.memberOrder))
	for _, id := range g.memberOrder {
		members = append(members, *g.members[id])
	}
	return members, nil
}

// GetUserInfo returns one member's record.
func (s *MemStore) GetUserInfo(ctx context.Context, group, userID string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, m, err := s.member(group, userID)
	if err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

// LeaveGroup removes the user from the group. When the user is the last
// member, the group and everything it contains (modules, items, invites,
// invite links) is deleted atomically and deleted=true is returned. An
// owner with other members present cannot leave.
func (s *MemStore) LeaveGroup(ctx context.Context, userID, group string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, m, err := s.member(group, userID)
	if err != nil {
		return false, err
	}

	if len(g.members) == 1 {
		s.deleteGroupLocked(g)
		return true, nil
	}

	if m.Role == RoleOwner {
		return false, invalidf("owner cannot leave group %s", group)
	}

	g.removeMember(userID)
	g.modifiedAt = s.nowMillis()
	return false, nil
}

func (s *MemStore) deleteGroupLocked(g *groupRec) {
	delete(s.groups, g.id)
	for _, byGroup := range s.invites {
		delete(byGroup, g.id)
	}
	for code, link := range s.links {
		if link.GroupID == g.id {
			delete(s.links, code)
		}
	}
	for key, id := range s.directs {
		if id == g.id {
			delete(s.directs, key)
		}
	}
}

// Kick removes a member from the group.
func (s *MemStore) Kick(ctx context.Context, group, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, m, err := s.member(group, target)
	if err != nil {
		return err
	}
	if m.Role == RoleOwner {
		return invalidf("cannot kick the owner of group %s", group)
	}
	g.removeMember(target)
	g.modifiedAt = s.nowMillis()
	return nil
}

// SetRole changes the target member's role. Granting owner demotes the
// current owner (the actor) to moderator in the same update so the group
// never has zero or two owners.
func (s *MemStore) SetRole(ctx context.Context, group, actor, target string, role Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !role.Valid() {
		return false, invalidf("invalid role %q", role)
	}

	g, tm, err := s.member(group, target)
	if err != nil {
		return false, err
	}

	if role == RoleOwner {
		am, ok := g.members[actor]
		if !ok || am.Role != RoleOwner {
			return false, invalidf("only the owner can transfer ownership of group %s", group)
		}
		tm.Role = RoleOwner
		am.Role = RoleModerator
		g.modifiedAt = s.nowMillis()
		return true, nil
	}

	if tm.Role == RoleOwner {
		return false, invalidf("cannot change the owner's role in group %s", group)
	}
	tm.Role = role
	g.modifiedAt = s.nowMillis()
	return false, nil
}

// SetMuted implements Store.
func (s *MemStore) SetMuted(ctx context.Context, group, target string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, m, err := s.member(group, target)
	if err != nil {
		return err
	}
	m.Muted = muted
	g.modifiedAt = s.nowMillis()
	return nil
}

// --- invitations ---

// AddGroupInviteCode stores a join code for a group.
func (s *MemStore) AddGroupInviteCode(ctx context.Context, group, code string, expireAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.group(group); err != nil {
		return err
	}
	if _, ok := s.links[code]; ok {
		return invalidf("invite code collision")
	}
	s.links[code] = InviteLink{Code: code, GroupID: group, ExpireAt: expireAt}
	return nil
}

// CheckInviteCode returns the link for a code, or nil if unknown.
// Expiry is the caller's concern; the stored ExpireAt is returned as-is.
func (s *MemStore) CheckInviteCode(ctx context.Context, code string) (*InviteLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[code]
	if !ok {
		return nil, nil
	}
	out := link
	return &out, nil
}

// JoinGroup adds the user to the group with role user.
// Joining a group the user already belongs to is a no-op.
func (s *MemStore) JoinGroup(ctx context.Context, userID, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(userID)
	if err != nil {
		return err
	}
	g, err := s.group(group)
	if err != nil {
		return err
	}
	if _, ok := g.members[userID]; ok {
		return nil
	}
	g.addMember(acct.ID, acct.Name, RoleUser)
	g.modifiedAt = s.nowMillis()
	return nil
}

// SendInvite records an invitation. Returns created=false when an invite
// for the same (user, group) pair already exists.
func (s *MemStore) SendInvite(ctx context.Context, invite Invite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.account(invite.UserID); err != nil {
		return false, err
	}
	if _, err := s.group(invite.GroupID); err != nil {
		return false, err
	}

	byGroup, ok := s.invites[invite.UserID]
	if !ok {
		byGroup = make(map[string]Invite)
		s.invites[invite.UserID] = byGroup
	}
	if _, ok := byGroup[invite.GroupID]; ok {
		return false, nil
	}
	byGroup[invite.GroupID] = invite
	return true, nil
}

// GetInvites lists the user's pending invitations.
func (s *MemStore) GetInvites(ctx context.Context, userID string) ([]Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.account(userID); err != nil {
		return nil, err
	}

	invites := []Invite{}
	for _, inv := range s.invites[userID] {
		invites = append(invites, inv)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].GroupID < invites[j].GroupID })
	return invites, nil
}

// ReplyToInvite consumes an invitation. Accepting joins the group as a
// regular user; rejecting just removes the invite.
func (s *MemStore) ReplyToInvite(ctx context.Context, userID, group string, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(userID)
	if err != nil {
		return err
	}

	byGroup := s.invites[userID]
	if _, ok := byGroup[group]; !ok {
		return invalidf("no invite for group %s", group)
	}
	delete(byGroup, group)

	if !accept {
		return nil
	}

	g, err := s.group(group)
	if err != nil {
		return err
	}
	if _, ok := g.members[userID]; !ok {
		g.addMember(acct.ID, acct.Name, RoleUser)
		g.modifiedAt = s.nowMillis()
	}
	return nil
}

// --- modules ---

// CreateModule adds a typed module to a group.
func (s *MemStore) CreateModule(ctx context.Context, group, name string, moduleType ModuleType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return 0, err
	}

	s.moduleSeq++
	mod := &moduleRec{
		info: ModuleInfo{
			ID:         s.moduleSeq,
			Name:       name,
			Type:       moduleType,
			Enabled:    true,
			ModifiedAt: s.nowMillis(),
		},
		nextID: 1,
	}
	g.modules[mod.info.ID] = mod
	g.moduleOrder = append(g.moduleOrder, mod.info.ID)
	g.modifiedAt = s.nowMillis()
	return mod.info.ID, nil
}

func (s *MemStore) module(group string, id int64) (*groupRec, *moduleRec, error) {
	g, err := s.group(group)
	if err != nil {
		return nil, nil, err
	}
	mod, ok := g.modules[id]
	if !ok {
		return nil, nil, invalidf("unknown module %d in group %s", id, group)
	}
	return g, mod, nil
}

func (s *MemStore) typedModule(group string, id int64, moduleType ModuleType) (*moduleRec, error) {
	_, mod, err := s.module(group, id)
	if err != nil {
		return nil, err
	}
	if mod.info.Type != moduleType {
		return nil, invalidf("module %d is not a %s module", id, moduleType)
	}
	return mod, nil
}

// writableModule is typedModule plus the enabled check used by item writes.
func (s *MemStore) writableModule(group string, id int64, moduleType ModuleType) (*moduleRec, error) {
	mod, err := s.typedModule(group, id, moduleType)
	if err != nil {
		return nil, err
	}
	if !mod.info.Enabled {
		return nil, invalidf("module %d is disabled", id)
	}
	return mod, nil
}

// CheckModuleInGroup implements Store.
func (s *MemStore) CheckModuleInGroup(ctx context.Context, moduleType ModuleType, module int64, group string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.typedModule(group, module, moduleType)
	return err
}

// GetModules lists the group's modules.
func (s *MemStore) GetModules(ctx context.Context, group string) ([]ModuleInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	modules := make([]ModuleInfo, 0, len(g.moduleOrder))
	for _, id := range g.moduleOrder {
		modules = append(modules, g.modules[id].info)
	}
	return modules, nil
}

// GetModuleInfo returns descriptions for the requested modules.
func (s *MemStore) GetModuleInfo(ctx context.Context, group string, modules []int64) ([]ModuleInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	infos := []ModuleInfo{}
	for _, id := range modules {
		mod, ok := g.modules[id]
		if !ok {
			return nil, invalidf("unknown module %d in group %s", id, group)
		}
		infos = append(infos, mod.info)
	}
	return infos, nil
}

// SetRequireApproval implements Store.
func (s *MemStore) SetRequireApproval(ctx context.Context, group string, require bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.group(group)
	if err != nil {
		return err
	}
	g.requireApproval = require
	g.modifiedAt = s.nowMillis()
	return nil
}

// SetModuleEnabled implements Store.
func (s *MemStore) SetModuleEnabled(ctx context.Context, group string, module int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, mod, err := s.module(group, module)
	if err != nil {
		return err
	}
	mod.info.Enabled = enabled
	mod.info.ModifiedAt = s.nowMillis()
	g.modifiedAt = s.nowMillis()
	return nil
}

// --- chat ---

// SendMessage appends a message with the next sequential id.
func (s *MemStore) SendMessage(ctx context.Context, group string, module int64, sender, contents string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.writableModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        mod.nextID,
		Sender:    sender,
		Timestamp: s.nowMillis(),
		Contents:  contents,
		Reactions: []Reaction{},
	}
	mod.nextID++
	mod.messages = append(mod.messages, msg)

	out := copyMessage(msg)
	return &out, nil
}

func copyMessage(m *Message) Message {
	out := *m
	out.Reactions = append([]Reaction{}, m.Reactions...)
	return out
}

// GetMessages returns up to limit messages with after < id < before, in
// ascending id order. When more match, the most recent ones win.
func (s *MemStore) GetMessages(ctx context.Context, group string, module, after, before int64, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}

	matched := []Message{}
	for _, m := range mod.messages {
		if m.ID > after && m.ID < before {
			matched = append(matched, copyMessage(m))
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (mod *moduleRec) message(id int64) (*Message, error) {
	for _, m := range mod.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, invalidf("unknown message %d", id)
}

// GetMessage returns a single message by id.
func (s *MemStore) GetMessage(ctx context.Context, group string, module, id int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}
	m, err := mod.message(id)
	if err != nil {
		return nil, err
	}
	out := copyMessage(m)
	return &out, nil
}

// EditMessage replaces a message's contents. Empty contents deletes the
// message: the id is kept, the text and reactions are cleared. A deleted
// message cannot be edited again.
func (s *MemStore) EditMessage(ctx context.Context, group string, module, id int64, contents string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}
	m, err := mod.message(id)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, invalidf("message %d is deleted", id)
	}

	m.Contents = contents
	if contents == "" {
		m.Deleted = true
		m.Reactions = []Reaction{}
	}
	out := copyMessage(m)
	return &out, nil
}

// GetReactions implements Store.
func (s *MemStore) GetReactions(ctx context.Context, group string, module, id int64) ([]Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}
	m, err := mod.message(id)
	if err != nil {
		return nil, err
	}
	return append([]Reaction{}, m.Reactions...), nil
}

// SetReaction sets or replaces the user's reaction on a message.
// An empty reaction removes the user's entry.
func (s *MemStore) SetReaction(ctx context.Context, group string, module, id int64, userID, reaction string) ([]Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleChat)
	if err != nil {
		return nil, err
	}
	m, err := mod.message(id)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, invalidf("message %d is deleted", id)
	}

	filtered := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			filtered = append(filtered, r)
		}
	}
	m.Reactions = filtered
	if reaction != "" {
		m.Reactions = append(m.Reactions, Reaction{UserID: userID, Reaction: reaction})
	}
	return append([]Reaction{}, m.Reactions...), nil
}

// --- tasks ---

// CreateTask appends a task with the next sequential id.
func (s *MemStore) CreateTask(ctx context.Context, group string, module int64, sender, description string, deadline int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.writableModule(group, module, ModuleTask)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:          mod.nextID,
		Sender:      sender,
		Timestamp:   s.nowMillis(),
		Description: description,
		Deadline:    deadline,
	}
	mod.nextID++
	mod.tasks = append(mod.tasks, task)

	out := *task
	return &out, nil
}

// GetTasks lists the module's tasks in id order.
func (s *MemStore) GetTasks(ctx context.Context, group string, module int64) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleTask)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(mod.tasks))
	for _, t := range mod.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (mod *moduleRec) task(id int64) (*Task, int, error) {
	for i, t := range mod.tasks {
		if t.ID == id {
			return t, i, nil
		}
	}
	return nil, 0, invalidf("unknown task %d", id)
}

// GetTask returns a single task by id.
func (s *MemStore) GetTask(ctx context.Context, group string, module, id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleTask)
	if err != nil {
		return nil, err
	}
	t, _, err := mod.task(id)
	if err != nil {
		return nil, err
	}
	out := *t
	return &out, nil
}

// UpdateTaskStatus implements Store.
func (s *MemStore) UpdateTaskStatus(ctx context.Context, group string, module, id int64, completed bool) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleTask)
	if err != nil {
		return nil, err
	}
	t, _, err := mod.task(id)
	if err != nil {
		return nil, err
	}
	t.Completed = completed
	out := *t
	return &out, nil
}

// UpdateTaskDeadline implements Store.
func (s *MemStore) UpdateTaskDeadline(ctx context.Context, group string, module, id, deadline int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleTask)
	if err != nil {
		return nil, err
	}
	t, _, err := mod.task(id)
	if err != nil {
		return nil, err
	}
	t.Deadline = deadline
	out := *t
	return &out, nil
}

// DeleteTask removes a task. Its id is never reused.
func (s *MemStore) DeleteTask(ctx context.Context, group string, module, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleTask)
	if err != nil {
		return err
	}
	_, i, err := mod.task(id)
	if err != nil {
		return err
	}
	mod.tasks = append(mod.tasks[:i], mod.tasks[i+1:]...)
	return nil
}

// --- calendar ---

// CreateEvent appends an event with the next sequential id.
func (s *MemStore) CreateEvent(ctx context.Context, group string, module int64, sender, description string, start, end int64, approved bool) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.writableModule(group, module, ModuleCal)
	if err != nil {
		return nil, err
	}

	event := &Event{
		ID:          mod.nextID,
		Sender:      sender,
		Timestamp:   s.nowMillis(),
		Description: description,
		Start:       start,
		End:         end,
		Approved:    approved,
	}
	mod.nextID++
	mod.events = append(mod.events, event)

	out := *event
	return &out, nil
}

// GetEvents lists the module's events in id order.
func (s *MemStore) GetEvents(ctx context.Context, group string, module int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(mod.events))
	for _, e := range mod.events {
		events = append(events, *e)
	}
	return events, nil
}

func (mod *moduleRec) event(id int64) (*Event, int, error) {
	for i, e := range mod.events {
		if e.ID == id {
			return e, i, nil
		}
	}
	return nil, 0, invalidf("unknown event %d", id)
}

// GetEvent returns a single event by id.
func (s *MemStore) GetEvent(ctx context.Context, group string, module, id int64) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return nil, err
	}
	e, _, err := mod.event(id)
	if err != nil {
		return nil, err
	}
	out := *e
	return &out, nil
}

// ApproveEvent approves a pending event, or with approve=false deletes it.
// Rejecting an already-approved event is a no-op.
func (s *MemStore) ApproveEvent(ctx context.Context, group string, module, id int64, approve bool) (*Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return nil, false, err
	}
	e, i, err := mod.event(id)
	if err != nil {
		return nil, false, err
	}

	if approve {
		e.Approved = true
		out := *e
		return &out, false, nil
	}

	if e.Approved {
		out := *e
		return &out, false, nil
	}
	mod.events = append(mod.events[:i], mod.events[i+1:]...)
	return nil, true, nil
}

// EditEvent replaces an event's description and times.
func (s *MemStore) EditEvent(ctx context.Context, group string, module, id int64, description string, start, end int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return nil, err
	}
	e, _, err := mod.event(id)
	if err != nil {
		return nil, err
	}
	e.Description = description
	e.Start = start
	e.End = end
	out := *e
	return &out, nil
}

// DeleteEvent removes an event. Its id is never reused.
func (s *MemStore) DeleteEvent(ctx context.Context, group string, module, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return err
	}
	_, i, err := mod.event(id)
	if err != nil {
		return err
	}
	mod.events = append(mod.events[:i], mod.events[i+1:]...)
	return nil
}

// SetBulletinEvent marks or unmarks an event as the bulletin.
// At most one event per module carries the bulletin flag.
func (s *MemStore) SetBulletinEvent(ctx context.Context, group string, module, id int64, bulletin bool) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModuleCal)
	if err != nil {
		return nil, err
	}
	e, _, err := mod.event(id)
	if err != nil {
		return nil, err
	}

	if bulletin {
		for _, other := range mod.events {
			other.Bulletin = false
		}
	}
	e.Bulletin = bulletin
	out := *e
	return &out, nil
}

// --- polls ---

// CreatePoll appends a poll with the next sequential id.
func (s *MemStore) CreatePoll(ctx context.Context, group string, module int64, sender, description string, options []string) (*Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.writableModule(group, module, ModulePoll)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, invalidf("poll needs at least one option")
	}

	poll := Poll{
		ID:          mod.nextID,
		Sender:      sender,
		Timestamp:   s.nowMillis(),
		Description: description,
		Options:     make([]PollOption, len(options)),
	}
	for i, text := range options {
		poll.Options[i] = PollOption{Text: text}
	}
	mod.nextID++
	mod.polls = append(mod.polls, &pollRec{poll: poll, voters: make(map[string]int)})

	out := copyPoll(&poll)
	return &out, nil
}

func copyPoll(p *Poll) Poll {
	out := *p
	out.Options = append([]PollOption{}, p.Options...)
	return out
}

// GetPolls lists the module's polls in id order.
func (s *MemStore) GetPolls(ctx context.Context, group string, module int64) ([]Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, err := s.typedModule(group, module, ModulePoll)
	if err != nil {
		return nil, err
	}
	polls := make([]Poll, 0, len(mod.polls))
	for _, p := range mod.polls {
		polls = append(polls, copyPoll(&p.poll))
	}
	return polls, nil
}

// Vote records the user's vote on a poll. Revoting moves the vote.
func (s *MemStore) Vote(ctx context.Context, group string, module, id int64, userID string, option int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, err := s.typedModule(group, module, ModulePoll)
	if err != nil {
		return err
	}

	var rec *pollRec
	for _, p := range mod.polls {
		if p.poll.ID == id {
			rec = p
			break
		}
	}
	if rec == nil {
		return invalidf("unknown poll %d", id)
	}
	if option < 0 || option >= len(rec.poll.Options) {
		return invalidf("invalid option %d", option)
	}

	if prev, ok := rec.voters[userID]; ok {
		rec.poll.Options[prev].Votes--
	}
	rec.voters[userID] = option
	rec.poll.Options[option].Votes++
	return nil
}

// --- direct messages ---

// CreateDirectMessage creates (or returns) the direct-message group between
// two users. The group starts with a single chat module; the initiator is
// the owner, the peer a moderator so neither side can mute the other.
func (s *MemStore) CreateDirectMessage(ctx context.Context, user, peer string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user == peer {
		return "", invalidf("cannot open a direct message with yourself")
	}
	ua, err := s.account(user)
	if err != nil {
		return "", err
	}
	pa, err := s.account(peer)
	if err != nil {
		return "", err
	}

	key := directKey(user, peer)
	if id, ok := s.directs[key]; ok {
		return id, nil
	}

	g := s.createGroupLocked(ua, fmt.Sprintf("%s & %s", ua.Name, pa.Name), false)
	g.addMember(pa.ID, pa.Name, RoleModerator)

	s.moduleSeq++
	mod := &moduleRec{
		info: ModuleInfo{
			ID:         s.moduleSeq,
			Name:       "chat",
			Type:       ModuleChat,
			Enabled:    true,
			ModifiedAt: s.nowMillis(),
		},
		nextID: 1,
	}
	g.modules[mod.info.ID] = mod
	g.moduleOrder = append(g.moduleOrder, mod.info.ID)

	s.directs[key] = g.id
	return g.id, nil
}

func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, "|")
}
