package comcore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/infodancer/comcore/internal/email"
	"github.com/infodancer/comcore/internal/logging"
	"github.com/infodancer/comcore/internal/metrics"
	"github.com/infodancer/comcore/internal/server"
	"github.com/infodancer/comcore/internal/store"
)

// handlerFunc processes one authenticated request and returns the REPLY
// payload or an error.
type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

// EngineConfig groups the collaborators an Engine needs.
type EngineConfig struct {
	Store       store.Store
	Sender      email.Sender
	Collector   metrics.Collector // nil → NoopCollector
	Logger      *slog.Logger      // nil → slog.Default()
	UploadDir   string
	JoinBaseURL string
}

// Engine is the protocol core: it owns the code manager, the session
// registry, and the dispatch table, and binds them to the Store, Crypto,
// and Email collaborators.
type Engine struct {
	store       store.Store
	codes       *CodeManager
	registry    *Registry
	collector   metrics.Collector
	logger      *slog.Logger
	uploadDir   string
	joinBaseURL string
	now         func() time.Time

	handlers map[string]handlerFunc
}

// NewEngine creates an Engine and registers the authenticated vocabulary.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	e := &Engine{
		store:       cfg.Store,
		codes:       NewCodeManager(cfg.Sender),
		registry:    NewRegistry(),
		collector:   collector,
		logger:      logger,
		uploadDir:   cfg.UploadDir,
		joinBaseURL: cfg.JoinBaseURL,
		now:         time.Now,
	}

	e.handlers = map[string]handlerFunc{
		"getTwoFactor": e.getTwoFactor,
		"setTwoFactor": e.setTwoFactor,

		"createGroup":         e.createGroup,
		"createSubGroup":      e.createSubGroup,
		"getGroups":           e.getGroups,
		"getGroupInfo":        e.getGroupInfo,
		"getUsers":            e.getUsers,
		"getUserInfo":         e.getUserInfo,
		"leaveGroup":          e.leaveGroup,
		"kick":                e.kick,
		"setRole":             e.setRole,
		"setMuted":            e.setMuted,
		"createDirectMessage": e.createDirectMessage,

		"createInviteLink": e.createInviteLink,
		"useInviteLink":    e.useInviteLink,
		"sendInvite":       e.sendInvite,
		"getInvites":       e.getInvites,
		"replyToInvite":    e.replyToInvite,

		"createModule":       e.createModule,
		"getModules":         e.getModules,
		"getModuleInfo":      e.getModuleInfo,
		"setRequireApproval": e.setRequireApproval,
		"setModuleEnabled":   e.setModuleEnabled,

		"sendMessage":   e.sendMessage,
		"getMessages":   e.getMessages,
		"updateMessage": e.updateMessage,
		"setReaction":   e.setReaction,

		"addTask":            e.addTask,
		"getTasks":           e.getTasks,
		"updateTaskStatus":   e.updateTaskStatus,
		"updateTaskDeadline": e.updateTaskDeadline,
		"deleteTask":         e.deleteTask,

		"addEvent":     e.addEvent,
		"getEvents":    e.getEvents,
		"approveEvent": e.approveEvent,
		"updateEvent":  e.updateEvent,
		"deleteEvent":  e.deleteEvent,
		"setBulletin":  e.setBulletin,

		"addPoll":    e.addPoll,
		"getPolls":   e.getPolls,
		"voteOnPoll": e.voteOnPoll,

		"uploadFile": e.uploadFile,
	}
	return e
}

// Registry exposes the session registry, primarily for tests and shutdown.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Codes exposes the code manager, primarily for tests.
func (e *Engine) Codes() *CodeManager {
	return e.codes
}

// Handler adapts the engine to the listener's connection handler.
func (e *Engine) Handler() server.ConnectionHandler {
	return func(ctx context.Context, conn *server.Connection) {
		e.handleConnection(ctx, conn)
	}
}

// handleConnection runs one connection's request pump: read a line, handle
// it to completion, reply, repeat. Requests on a single connection are
// strictly serialized; pushes interleave through the connection's write
// lock.
func (e *Engine) handleConnection(ctx context.Context, conn *server.Connection) {
	logger := logging.FromContext(ctx)

	e.collector.ConnectionOpened()
	defer e.collector.ConnectionClosed()

	client := newClient(e, conn, logger)
	defer client.logout()

	logger.Info("session started", "tls", conn.IsTLS())

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, closing connection")
			return
		default:
		}

		line, err := conn.ReadLine()
		if err != nil {
			if err == io.EOF {
				logger.Info("client closed connection")
			} else {
				logger.Debug("read error", "error", err.Error())
			}
			return
		}
		if line == "" {
			continue
		}

		client.HandleLine(ctx, line)
	}
}

// NewClient binds a session to an arbitrary LineWriter. Tests drive
// HandleLine directly without a socket.
func (e *Engine) NewClient(out LineWriter) *Client {
	return newClient(e, out, e.logger)
}

// EndAll pushes the end frame to every online session. Called during
// graceful shutdown after the listeners stop accepting.
func (e *Engine) EndAll() {
	e.registry.mu.Lock()
	targets := make([]*Client, 0)
	for _, set := range e.registry.sessions {
		for c := range set {
			targets = append(targets, c)
		}
	}
	e.registry.mu.Unlock()

	for _, c := range targets {
		c.Push(PushEnd, empty{})
	}
}

// --- shared authorization helpers ---

// requireUser returns the logged-in user id or an unauthorized error.
// Handlers are only reachable in LoggedIn, so a miss means the state
// changed underneath the request.
func (c *Client) requireUser() (string, error) {
	userID := c.UserID()
	if userID == "" {
		return "", Unauthorizedf("not logged in")
	}
	return userID, nil
}

// requireMember validates that the user belongs to the group.
func (e *Engine) requireMember(ctx context.Context, userID, group string) error {
	return e.store.CheckUserInGroup(ctx, userID, group)
}

// requireRole validates membership and a minimum role.
func (e *Engine) requireRole(ctx context.Context, group, userID string, min store.Role) (store.Role, error) {
	role, err := e.store.GetRole(ctx, group, userID)
	if err != nil {
		return "", err
	}
	if role.Level() < min.Level() {
		return "", Errorf("requires %s or above", min)
	}
	return role, nil
}

// requireOverTarget validates that the actor strictly outranks the target
// and is not the target.
func (e *Engine) requireOverTarget(ctx context.Context, group, actor, target string) error {
	if actor == target {
		return Errorf("cannot modify yourself")
	}
	actorRole, err := e.store.GetRole(ctx, group, actor)
	if err != nil {
		return err
	}
	targetRole, err := e.store.GetRole(ctx, group, target)
	if err != nil {
		return err
	}
	if !actorRole.MorePowerful(targetRole) {
		return Errorf("requires a more powerful role than the target")
	}
	return nil
}

// requireNotMuted validates that the user may create items in the group.
func (e *Engine) requireNotMuted(ctx context.Context, group, userID string) error {
	muted, err := e.store.GetMuted(ctx, group, userID)
	if err != nil {
		return err
	}
	if muted {
		return Errorf("user is muted")
	}
	return nil
}

// requireModule validates membership and that the module exists in the
// group with the expected type.
func (e *Engine) requireModule(ctx context.Context, userID, group string, module int64, typ store.ModuleType) error {
	if err := e.requireMember(ctx, userID, group); err != nil {
		return err
	}
	return e.store.CheckModuleInGroup(ctx, typ, module, group)
}

// pushGroup forwards a push to every member of the group, excluding the
// originating connection. Recipients are computed after the Store write
// commits, so a recipient that immediately queries the Store sees the new
// state.
func (e *Engine) pushGroup(ctx context.Context, group, kind string, data any, except *Client) {
	members, err := e.store.GetUsers(ctx, group)
	if err != nil {
		e.logger.Error("push fan-out failed", "group", group, "kind", kind, "error", err.Error())
		return
	}
	for _, m := range members {
		e.registry.Forward(m.UserID, kind, data, except)
	}
}
