package comcore

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/infodancer/comcore/internal/crypto"
	"github.com/infodancer/comcore/internal/email"
)

// login authenticates by email and password. Depending on the account it
// either enters LoggedIn directly, or ConfirmEmail for a pending creation
// or a two-factor challenge.
func (e *Engine) login(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"pass"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Email == "" {
		return nil, Errorf("email is required")
	}

	// A live pending creation resumes the confirmation flow.
	pending, err := e.codes.ContinueCreation(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if pending {
		c.setSession(session{state: StateConfirmEmail, email: req.Email, codeKind: email.KindNewAccount})
		e.collector.AuthAttempt("login", true)
		return statusReply{Status: LoginEnterCode}, nil
	}

	acct, err := e.store.LookupAccount(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		e.collector.AuthAttempt("login", false)
		return statusReply{Status: LoginDoesNotExist}, nil
	}
	if !crypto.CheckPassword(req.Password, acct.PasswordHash) {
		e.collector.AuthAttempt("login", false)
		return statusReply{Status: LoginInvalidPassword}, nil
	}

	if acct.TwoFactor {
		if err := e.codes.SendConfirmation(ctx, acct.Email, email.KindTwoFactor, acct.ID); err != nil {
			return nil, err
		}
		c.setSession(session{state: StateConfirmEmail, email: acct.Email, codeKind: email.KindTwoFactor})
		e.collector.AuthAttempt("login", true)
		return statusReply{Status: LoginEnterCode}, nil
	}

	if err := e.issueLogin(ctx, c, acct.ID, acct.Name); err != nil {
		return nil, err
	}
	e.collector.AuthAttempt("login", true)
	return statusReply{Status: LoginSuccess}, nil
}

type statusReply struct {
	Status string `json:"status"`
}

// issueLogin rotates the auth token and enters LoggedIn.
func (e *Engine) issueLogin(ctx context.Context, c *Client, userID, name string) error {
	token, err := crypto.RandomToken()
	if err != nil {
		return err
	}
	if err := e.store.SetAuthToken(ctx, userID, token); err != nil {
		return err
	}
	c.loginAs(userID, name, token)
	return nil
}

// connect re-establishes a session with a previously issued auth token.
// The token is reused, not rotated. A mismatch leaves the connection
// logged out and pushes a logout frame so the client discards the token.
func (e *Engine) connect(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	stored, err := e.store.GetAuthToken(ctx, req.ID)
	if err != nil || stored == "" ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(req.Token)) != 1 {
		e.collector.AuthAttempt("connect", false)
		c.Push(PushLogout, empty{})
		return connectReply{Connected: false}, nil
	}

	name, err := e.store.GetUserName(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	c.loginAs(req.ID, name, stored)
	e.collector.AuthAttempt("connect", true)
	return connectReply{Connected: true}, nil
}

type connectReply struct {
	Connected bool `json:"connected"`
}

// createAccount starts account creation: the account is only persisted
// after the emailed code is confirmed.
func (e *Engine) createAccount(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"pass"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, Errorf("name, email and pass are required")
	}

	existing, err := e.store.LookupAccount(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, Errorf("account already exists")
	}

	if err := e.codes.StartCreation(ctx, req.Name, req.Email, req.Password); err != nil {
		return nil, err
	}

	c.setSession(session{state: StateConfirmEmail, email: req.Email, codeKind: email.KindNewAccount})
	e.collector.CodeIssued(string(email.KindNewAccount))
	return createdReply{Created: true}, nil
}

type createdReply struct {
	Created bool `json:"created"`
}

// requestReset starts a password reset for an existing account.
func (e *Engine) requestReset(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	acct, err := e.store.LookupAccount(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, Errorf("account does not exist")
	}

	if err := e.codes.SendConfirmation(ctx, acct.Email, email.KindResetPassword, acct.ID); err != nil {
		return nil, err
	}

	c.setSession(session{state: StateConfirmEmail, email: acct.Email, codeKind: email.KindResetPassword})
	e.collector.CodeIssued(string(email.KindResetPassword))
	return sentReply{Sent: true}, nil
}

type sentReply struct {
	Sent bool `json:"sent"`
}

// enterCode checks the confirmation code for the pending ConfirmEmail
// session and performs the kind-specific transition on success.
func (e *Engine) enterCode(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	sess := c.snapshot()
	bound, ok := e.codes.CheckCode(sess.email, sess.codeKind, req.Code)
	e.collector.CodeChecked(string(sess.codeKind), ok)
	if !ok {
		return correctReply{Correct: false}, nil
	}

	switch sess.codeKind {
	case email.KindNewAccount:
		name, hash, err := e.codes.FinishCreation(sess.email)
		if err != nil {
			return nil, err
		}
		acct, err := e.store.CreateAccount(ctx, name, sess.email, hash)
		if err != nil {
			return nil, err
		}
		if err := e.issueLogin(ctx, c, acct.ID, acct.Name); err != nil {
			return nil, err
		}

	case email.KindTwoFactor:
		// bound carries the user id captured at login time.
		name, err := e.store.GetUserName(ctx, bound)
		if err != nil {
			return nil, err
		}
		if err := e.issueLogin(ctx, c, bound, name); err != nil {
			return nil, err
		}

	case email.KindResetPassword:
		c.setSession(session{state: StateResetPassword, userID: bound})

	default:
		return nil, Errorf("unknown confirmation kind")
	}

	return correctReply{Correct: true}, nil
}

type correctReply struct {
	Correct bool `json:"correct"`
}

// finishReset stores the replacement password, forces every other session
// of the user out, and logs this connection in.
func (e *Engine) finishReset(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var req struct {
		Password string `json:"pass"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, Errorf("pass is required")
	}

	userID := c.snapshot().userID

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	if err := e.store.ResetPassword(ctx, userID, hash); err != nil {
		return nil, err
	}

	e.registry.ForceLogout(userID, c)

	name, err := e.store.GetUserName(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.issueLogin(ctx, c, userID, name); err != nil {
		return nil, err
	}
	return resetReply{Reset: true}, nil
}

type resetReply struct {
	Reset bool `json:"reset"`
}

// getTwoFactor reports whether two-factor login is enabled.
func (e *Engine) getTwoFactor(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	enabled, err := e.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return enabledReply{Enabled: enabled}, nil
}

// setTwoFactor enables or disables two-factor login.
func (e *Engine) setTwoFactor(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	userID, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Enabled == nil {
		return nil, Errorf("enabled is required")
	}
	if err := e.store.SetTwoFactor(ctx, userID, *req.Enabled); err != nil {
		return nil, err
	}
	return empty{}, nil
}

type enabledReply struct {
	Enabled bool `json:"enabled"`
}
