package comcore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// LineWriter is the outbound half of a client connection. Pushes may be
// written from any goroutine; implementations serialize writes and drop
// them once the connection is closed.
type LineWriter interface {
	WriteLine(line string) error
}

// Client binds one connection to its login state. Requests are handled one
// at a time by the connection's pump; pushes arrive from other goroutines
// through Push and are serialized by the LineWriter.
type Client struct {
	engine *Engine
	out    LineWriter
	logger *slog.Logger

	mu   sync.Mutex
	sess session
}

func newClient(engine *Engine, out LineWriter, logger *slog.Logger) *Client {
	return &Client{
		engine: engine,
		out:    out,
		logger: logger,
		sess:   loggedOut(),
	}
}

// snapshot returns a copy of the current session under the lock.
func (c *Client) snapshot() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// setSession replaces the session state.
func (c *Client) setSession(s session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = s
}

// UserID returns the logged-in user id, or "" when not logged in.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.state != StateLoggedIn {
		return ""
	}
	return c.sess.userID
}

// Push sends an unsolicited frame to this connection. Write failures are
// absorbed; the pump observes the closed connection instead.
func (c *Client) Push(kind string, data any) {
	line, err := encodeFrame(kind, data)
	if err != nil {
		c.logger.Error("failed to encode push", "kind", kind, "error", err.Error())
		return
	}
	if err := c.out.WriteLine(line); err != nil {
		c.logger.Debug("push dropped", "kind", kind, "error", err.Error())
		return
	}
	c.engine.collector.PushSent(kind)
}

func (c *Client) reply(data any) {
	line, err := encodeFrame(KindReply, data)
	if err != nil {
		c.logger.Error("failed to encode reply", "error", err.Error())
		c.replyError("internal server error")
		return
	}
	_ = c.out.WriteLine(line)
}

func (c *Client) replyError(message string) {
	line, err := encodeFrame(KindError, errorData{Message: message})
	if err != nil {
		return
	}
	_ = c.out.WriteLine(line)
}

// loginAs enters LoggedIn, registers the connection in the session
// registry, and pushes the login frame to this connection.
func (c *Client) loginAs(userID, name, token string) {
	c.setSession(session{state: StateLoggedIn, userID: userID, name: name, token: token})
	c.engine.registry.Register(userID, c)
	c.engine.collector.SessionOpened()
	c.Push(PushLogin, loginData{ID: userID, Name: name, Token: token})
}

type loginData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// logout leaves whatever state the connection is in and returns to
// LoggedOut, deregistering from the session registry when needed.
func (c *Client) logout() {
	c.mu.Lock()
	prev := c.sess
	c.sess = loggedOut()
	c.mu.Unlock()

	if prev.state == StateLoggedIn {
		c.engine.registry.Deregister(prev.userID, c)
		c.engine.collector.SessionClosed()
	}
}

// forcedLogout is invoked by the registry after it has already removed this
// connection from the session set.
func (c *Client) forcedLogout() {
	c.mu.Lock()
	wasLoggedIn := c.sess.state == StateLoggedIn
	c.sess = loggedOut()
	c.mu.Unlock()

	if wasLoggedIn {
		c.engine.collector.SessionClosed()
	}
	c.Push(PushLogout, empty{})
}

// HandleLine processes one request line: it dispatches by state and kind,
// and writes exactly one REPLY or ERROR frame.
func (c *Client) HandleLine(ctx context.Context, line string) {
	frame, err := parseFrame(line)
	if err != nil {
		c.replyError(err.Error())
		return
	}

	c.engine.collector.RequestProcessed(frame.Kind)

	result, err := c.dispatch(ctx, frame)
	if err != nil {
		c.engine.collector.RequestFailed(frame.Kind)

		reqErr, ok := asRequestError(err)
		if !ok {
			c.logger.Error("request failed",
				"kind", frame.Kind,
				"error", err.Error(),
			)
			c.replyError("internal server error")
			return
		}

		c.replyError(reqErr.Message)
		if reqErr.Unauthorized {
			c.logout()
			c.Push(PushLogout, empty{})
		}
		return
	}

	c.reply(result)
}

// dispatch routes a frame by the current state and the request kind.
func (c *Client) dispatch(ctx context.Context, frame *Frame) (any, error) {
	// State-independent requests never alter state.
	switch frame.Kind {
	case "PING":
		data := frame.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		return data, nil
	case "checkInviteLink":
		return c.engine.checkInviteLink(ctx, frame.Data)
	}

	// The logout-first kinds force the logout transition before handling.
	if logoutFirst[frame.Kind] {
		c.logout()
		switch frame.Kind {
		case "login":
			return c.engine.login(ctx, c, frame.Data)
		case "createAccount":
			return c.engine.createAccount(ctx, c, frame.Data)
		case "requestReset":
			return c.engine.requestReset(ctx, c, frame.Data)
		case "logout":
			return empty{}, nil
		}
	}

	switch c.snapshot().state {
	case StateLoggedOut:
		if frame.Kind == "connect" {
			return c.engine.connect(ctx, c, frame.Data)
		}
	case StateConfirmEmail:
		if frame.Kind == "enterCode" {
			return c.engine.enterCode(ctx, c, frame.Data)
		}
	case StateResetPassword:
		if frame.Kind == "finishReset" {
			return c.engine.finishReset(ctx, c, frame.Data)
		}
	case StateLoggedIn:
		handler, ok := c.engine.handlers[frame.Kind]
		if !ok {
			// Unknown kinds are plain errors; they do not force logout.
			return nil, Errorf("unknown request kind %q", frame.Kind)
		}
		return handler(ctx, c, frame.Data)
	}

	return nil, Unauthorizedf("request %q not allowed in the current state", frame.Kind)
}

// decode unmarshals a request payload, mapping JSON errors to a
// caller-visible request error.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Errorf("malformed request data")
	}
	return nil
}
