// Package store defines the persistence contract the protocol engine relies
// on, together with an in-memory implementation. Every operation takes a
// context and reports precondition violations (missing membership, wrong
// module type, unknown ids) as errors wrapping ErrInvalidRequest, which the
// dispatcher surfaces to clients as ERROR frames.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest is wrapped by every precondition failure.
var ErrInvalidRequest = errors.New("invalid request")

// ErrDuplicateAccount is returned by CreateAccount when the email is taken.
var ErrDuplicateAccount = fmt.Errorf("account already exists: %w", ErrInvalidRequest)

func invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidRequest)...)
}

// Role is a user's role within a group. Roles are totally ordered:
// owner > moderator > user.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Level returns the ordering rank of the role; unknown roles rank lowest.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleModerator:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// MorePowerful reports whether r strictly outranks other.
func (r Role) MorePowerful(other Role) bool {
	return r.Level() > other.Level()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

// ModuleType identifies which item collection a module holds.
type ModuleType string

const (
	ModuleChat ModuleType = "chat"
	ModuleTask ModuleType = "task"
	ModuleCal  ModuleType = "cal"
	ModulePoll ModuleType = "poll"
)

// KnownModuleType reports whether t is one of the built-in module types.
// Other non-empty values are treated as custom modules.
func KnownModuleType(t ModuleType) bool {
	switch t {
	case ModuleChat, ModuleTask, ModuleCal, ModulePoll:
		return true
	default:
		return false
	}
}

// Account is a registered user account.
type Account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	TwoFactor    bool   `json:"twoFactor"`
	AuthToken    string `json:"-"`
}

// Member is a user's membership record within a group.
type Member struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Muted  bool   `json:"muted"`
}

// GroupEntry is the compact listing form of a group.
type GroupEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ModifiedAt int64  `json:"modified"`
}

// GroupInfo is the full description of a group.
type GroupInfo struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Members         []Member     `json:"users"`
	Modules         []ModuleInfo `json:"modules"`
	RequireApproval bool         `json:"requireApproval"`
	ModifiedAt      int64        `json:"modified"`
}

// ModuleInfo describes a typed module within a group.
type ModuleInfo struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Type       ModuleType `json:"type"`
	Enabled    bool       `json:"enabled"`
	ModifiedAt int64      `json:"modified"`
}

// Reaction is one user's reaction to a message.
type Reaction struct {
	UserID   string `json:"id"`
	Reaction string `json:"reaction"`
}

// Message is a chat item. Ids are sequential per module starting at 1.
// A deleted message keeps its id with empty contents and Deleted set.
type Message struct {
	ID        int64      `json:"id"`
	Sender    string     `json:"sender"`
	Timestamp int64      `json:"timestamp"`
	Contents  string     `json:"contents"`
	Deleted   bool       `json:"deleted,omitempty"`
	Reactions []Reaction `json:"reactions"`
}

// Task is a task-list item.
type Task struct {
	ID          int64  `json:"id"`
	Sender      string `json:"sender"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
	Deadline    int64  `json:"deadline"`
	Completed   bool   `json:"completed"`
}

// Event is a calendar item. Unapproved events are visible but pending.
type Event struct {
	ID          int64  `json:"id"`
	Sender      string `json:"sender"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Approved    bool   `json:"approved"`
	Bulletin    bool   `json:"bulletin"`
}

// PollOption is one option of a poll with its current vote count.
type PollOption struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll is a poll item.
type Poll struct {
	ID          int64        `json:"id"`
	Sender      string       `json:"sender"`
	Timestamp   int64        `json:"timestamp"`
	Description string       `json:"description"`
	Options     []PollOption `json:"options"`
}

// Invite is a pending invitation of a user into a group.
// At most one invite exists per (user, group) pair.
type Invite struct {
	UserID      string `json:"-"`
	GroupID     string `json:"id"`
	GroupName   string `json:"name"`
	InviterName string `json:"inviter"`
}

// InviteLink is a shareable join code. ExpireAt of zero means never.
type InviteLink struct {
	Code     string `json:"code"`
	GroupID  string `json:"group"`
	ExpireAt int64  `json:"expire"`
}

// Store is the persistence contract for the protocol engine.
//
// Implementations must be safe for concurrent use. Cross-item consistency
// (ownership transfer, last-member cascade) is the implementation's
// responsibility: each such operation either fully applies or fails.
type Store interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	// Accounts
	LookupAccount(ctx context.Context, email string) (*Account, error) // nil when absent
	CreateAccount(ctx context.Context, name, email, passwordHash string) (*Account, error)
	ResetPassword(ctx context.Context, userID, passwordHash string) error
	GetTwoFactor(ctx context.Context, userID string) (bool, error)
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error
	GetAuthToken(ctx context.Context, userID string) (string, error)
	SetAuthToken(ctx context.Context, userID, token string) error
	GetUserName(ctx context.Context, userID string) (string, error)

	// Groups and membership
	CreateGroup(ctx context.Context, owner, name string) (string, error)
	CreateSubGroup(ctx context.Context, owner, parent, name string, users []string) (string, error)
	GetGroups(ctx context.Context, userID string) ([]GroupEntry, error)
	GetGroupInfo(ctx context.Context, userID string, groups []string, lastRefresh int64) ([]GroupInfo, error)
	GetGroupName(ctx context.Context, group string) (string, error)
	CheckUserInGroup(ctx context.Context, userID, group string) error
	GetRole(ctx context.Context, group, userID string) (Role, error)
	GetMuted(ctx context.Context, group, userID string) (bool, error)
	GetUsers(ctx context.Context, group string) ([]Member, error)
	GetUserInfo(ctx context.Context, group, userID string) (*Member, error)
	LeaveGroup(ctx context.Context, userID, group string) (deleted bool, err error)
	Kick(ctx context.Context, group, target string) error
	SetRole(ctx context.Context, group, actor, target string, role Role) (ownerTransfer bool, err error)
	SetMuted(ctx context.Context, group, target string, muted bool) error

	// Invitations
	AddGroupInviteCode(ctx context.Context, group, code string, expireAt int64) error
	CheckInviteCode(ctx context.Context, code string) (*InviteLink, error) // nil when unknown
	JoinGroup(ctx context.Context, userID, group string) error
	SendInvite(ctx context.Context, invite Invite) (created bool, err error)
	GetInvites(ctx context.Context, userID string) ([]Invite, error)
	ReplyToInvite(ctx context.Context, userID, group string, accept bool) error

	// Modules
	CreateModule(ctx context.Context, group, name string, moduleType ModuleType) (int64, error)
	CheckModuleInGroup(ctx context.Context, moduleType ModuleType, module int64, group string) error
	GetModules(ctx context.Context, group string) ([]ModuleInfo, error)
	GetModuleInfo(ctx context.Context, group string, modules []int64) ([]ModuleInfo, error)
	SetRequireApproval(ctx context.Context, group string, require bool) error
	SetModuleEnabled(ctx context.Context, group string, module int64, enabled bool) error

	// Chat
	SendMessage(ctx context.Context, group string, module int64, sender, contents string) (*Message, error)
	GetMessages(ctx context.Context, group string, module, after, before int64, limit int) ([]Message, error)
	GetMessage(ctx context.Context, group string, module, id int64) (*Message, error)
	EditMessage(ctx context.Context, group string, module, id int64, contents string) (*Message, error)
	GetReactions(ctx context.Context, group string, module, id int64) ([]Reaction, error)
	SetReaction(ctx context.Context, group string, module, id int64, userID, reaction string) ([]Reaction, error)

	// Tasks
	CreateTask(ctx context.Context, group string, module int64, sender, description string, deadline int64) (*Task, error)
	GetTasks(ctx context.Context, group string, module int64) ([]Task, error)
	GetTask(ctx context.Context, group string, module, id int64) (*Task, error)
	UpdateTaskStatus(ctx context.Context, group string, module, id int64, completed bool) (*Task, error)
	UpdateTaskDeadline(ctx context.Context, group string, module, id, deadline int64) (*Task, error)
	DeleteTask(ctx context.Context, group string, module, id int64) error

	// Calendar
	CreateEvent(ctx context.Context, group string, module int64, sender, description string, start, end int64, approved bool) (*Event, error)
	GetEvents(ctx context.Context, group string, module int64) ([]Event, error)
	GetEvent(ctx context.Context, group string, module, id int64) (*Event, error)
	ApproveEvent(ctx context.Context, group string, module, id int64, approve bool) (event *Event, deleted bool, err error)
	EditEvent(ctx context.Context, group string, module, id int64, description string, start, end int64) (*Event, error)
	DeleteEvent(ctx context.Context, group string, module, id int64) error
	SetBulletinEvent(ctx context.Context, group string, module, id int64, bulletin bool) (*Event, error)

	// Polls
	CreatePoll(ctx context.Context, group string, module int64, sender, description string, options []string) (*Poll, error)
	GetPolls(ctx context.Context, group string, module int64) ([]Poll, error)
	Vote(ctx context.Context, group string, module, id int64, userID string, option int) error

	// Direct messages
	CreateDirectMessage(ctx context.Context, user, peer string) (group string, err error)
}
