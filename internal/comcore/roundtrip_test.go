// Package comcore_test contains round-trip integration tests for the
// collaboration server. They wire the full stack — in-memory store,
// capturing email sender, protocol engine — and drive the line protocol
// over a real TLS connection.
package comcore_test

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/infodancer/comcore/internal/comcore"
	"github.com/infodancer/comcore/internal/email"
	"github.com/infodancer/comcore/internal/logging"
	"github.com/infodancer/comcore/internal/server"
	"github.com/infodancer/comcore/internal/store"
)

// testEnv holds the pieces needed to run a round-trip test: a TLS listener
// on a random localhost port fed into the engine's connection handler.
type testEnv struct {
	addr      string
	engine    *comcore.Engine
	capture   *email.Capture
	clientTLS *tls.Config

	ln     net.Listener
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// newTestEnv starts a full comcore server on a random localhost port.
// t.Cleanup handles teardown.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	serverTLS, clientTLS := generateTestTLS(t)

	capture := email.NewCapture()
	engine := comcore.NewEngine(comcore.EngineConfig{
		Store:  store.NewMemStore(),
		Sender: capture,
		Logger: logging.Discard(),
	})
	handler := engine.Handler()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	env := &testEnv{
		addr:      ln.Addr().String(),
		engine:    engine,
		capture:   capture,
		clientTLS: clientTLS,
		ln:        ln,
		cancel:    cancel,
	}

	env.wg.Add(1)
	go func() {
		defer env.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			env.wg.Add(1)
			go func(c net.Conn) {
				defer env.wg.Done()
				logger := logging.Discard()
				srvConn := server.NewConnection(c, logger, 30*time.Second)
				defer func() { _ = srvConn.Close() }()
				handler(logging.WithContext(ctx, logger), srvConn)
			}(conn)
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		env.wg.Wait()
	})

	return env
}

// dial opens a TLS connection and wraps it in a frame-level test client.
func (e *testEnv) dial(t *testing.T) *frameClient {
	t.Helper()
	conn, err := tls.DialWithDialer(
		&net.Dialer{Timeout: 5 * time.Second},
		"tcp",
		e.addr,
		e.clientTLS,
	)
	if err != nil {
		t.Fatalf("dial %s: %v", e.addr, err)
	}
	c := &frameClient{conn: conn, r: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// generateTestTLS creates a self-signed ECDSA certificate valid for
// 127.0.0.1. Returns server config (with certificate) and client config
// (trusting that cert).
func generateTestTLS(t *testing.T) (serverTLS, clientTLS *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "comcore-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}
	serverTLS = &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
	}

	parsed, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(parsed)
	clientTLS = &tls.Config{
		RootCAs:    pool,
		ServerName: "127.0.0.1",
	}

	return serverTLS, clientTLS
}

// frameClient is a thin frame-level protocol driver for integration tests.
type frameClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *frameClient) send(t *testing.T, kind string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s data: %v", kind, err)
	}
	frame, err := json.Marshal(comcore.Frame{Kind: kind, Data: payload})
	if err != nil {
		t.Fatalf("marshal %s frame: %v", kind, err)
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", frame); err != nil {
		t.Fatalf("send %s: %v", kind, err)
	}
}

func (c *frameClient) readFrame(t *testing.T) comcore.Frame {
	t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f comcore.Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		t.Fatalf("malformed frame %q: %v", line, err)
	}
	return f
}

// roundTrip sends a request and reads frames until the REPLY or ERROR
// arrives, returning it plus any pushes seen on the way.
func (c *frameClient) roundTrip(t *testing.T, kind string, data any) (comcore.Frame, []comcore.Frame) {
	t.Helper()
	c.send(t, kind, data)

	var pushes []comcore.Frame
	for {
		f := c.readFrame(t)
		if f.Kind == comcore.KindReply || f.Kind == comcore.KindError {
			return f, pushes
		}
		pushes = append(pushes, f)
	}
}

// mustReply performs a round trip, requires a REPLY, and decodes it.
func (c *frameClient) mustReply(t *testing.T, kind string, data, out any) []comcore.Frame {
	t.Helper()
	f, pushes := c.roundTrip(t, kind, data)
	if f.Kind != comcore.KindReply {
		t.Fatalf("%s: got %s frame %s, want REPLY", kind, f.Kind, f.Data)
	}
	if out != nil {
		if err := json.Unmarshal(f.Data, out); err != nil {
			t.Fatalf("decode %s reply %s: %v", kind, f.Data, err)
		}
	}
	return pushes
}

// createAccount drives the account creation flow over the wire and returns
// the new user's id.
func (e *testEnv) createAccount(t *testing.T, c *frameClient, name, addr, pass string) string {
	t.Helper()

	var created struct {
		Created bool `json:"created"`
	}
	c.mustReply(t, "createAccount", map[string]string{
		"name": name, "email": addr, "pass": pass,
	}, &created)
	if !created.Created {
		t.Fatalf("createAccount(%s) replied created=false", addr)
	}

	code := e.capture.LastCode(addr)
	if code == "" {
		t.Fatalf("no confirmation code delivered for %s", addr)
	}

	var correct struct {
		Correct bool `json:"correct"`
	}
	pushes := c.mustReply(t, "enterCode", map[string]string{"code": code}, &correct)
	if !correct.Correct {
		t.Fatalf("enterCode(%s) rejected the delivered code", addr)
	}

	for _, f := range pushes {
		if f.Kind != comcore.PushLogin {
			continue
		}
		var login struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(f.Data, &login); err != nil {
			t.Fatalf("decode login push: %v", err)
		}
		return login.ID
	}
	t.Fatalf("no login push after account creation, pushes: %+v", pushes)
	return ""
}

// --- Integration Tests ---

func TestRoundTrip_Ping(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	reply, _ := c.roundTrip(t, "PING", map[string]string{"nonce": "42"})
	if reply.Kind != comcore.KindReply {
		t.Fatalf("PING reply kind = %s, want REPLY", reply.Kind)
	}
	var data map[string]string
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		t.Fatalf("decode PING reply: %v", err)
	}
	if data["nonce"] != "42" {
		t.Errorf("PING echo = %v, want the sent payload", data)
	}
}

func TestRoundTrip_CreateAccountAndLogin(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	env.createAccount(t, c, "Alice", "alice@example.com", "secret")

	// A fresh connection can log in with the same credentials.
	c2 := env.dial(t)
	var status struct {
		Status string `json:"status"`
	}
	pushes := c2.mustReply(t, "login", map[string]string{
		"email": "alice@example.com", "pass": "secret",
	}, &status)
	if status.Status != comcore.LoginSuccess {
		t.Fatalf("login status = %s, want %s", status.Status, comcore.LoginSuccess)
	}
	found := false
	for _, f := range pushes {
		if f.Kind == comcore.PushLogin {
			found = true
		}
	}
	if !found {
		t.Error("no login push on successful login")
	}
}

func TestRoundTrip_LoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	env.createAccount(t, c, "Alice", "alice@example.com", "secret")

	c2 := env.dial(t)
	var status struct {
		Status string `json:"status"`
	}
	c2.mustReply(t, "login", map[string]string{
		"email": "alice@example.com", "pass": "nope",
	}, &status)
	if status.Status != comcore.LoginInvalidPassword {
		t.Errorf("login status = %s, want %s", status.Status, comcore.LoginInvalidPassword)
	}
}

// Two live connections: a message sent on one arrives as a push on the
// other without the receiver asking for it.
func TestRoundTrip_MessageFanout(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	env.createAccount(t, alice, "Alice", "alice@example.com", "p")
	bob := env.dial(t)
	env.createAccount(t, bob, "Bob", "bob@example.com", "p")

	var group struct {
		ID string `json:"id"`
	}
	alice.mustReply(t, "createGroup", map[string]string{"name": "G"}, &group)
	var module struct {
		ID int64 `json:"id"`
	}
	alice.mustReply(t, "createModule", map[string]any{
		"group": group.ID, "name": "main", "type": "chat",
	}, &module)

	var sent struct {
		Sent bool `json:"sent"`
	}
	alice.mustReply(t, "sendInvite", map[string]string{
		"group": group.ID, "email": "bob@example.com",
	}, &sent)

	// Bob's pending push arrives before or with his next reply.
	pushes := bob.mustReply(t, "replyToInvite", map[string]any{
		"group": group.ID, "accept": true,
	}, nil)
	invited := false
	for _, f := range pushes {
		if f.Kind == comcore.PushInvite {
			invited = true
		}
	}
	if !invited {
		t.Fatalf("bob never received the invite push, pushes: %+v", pushes)
	}

	bob.mustReply(t, "sendMessage", map[string]any{
		"group": group.ID, "chat": module.ID, "contents": "hello over tls",
	}, nil)

	f := alice.readFrame(t)
	if f.Kind != comcore.PushMessage {
		t.Fatalf("alice's next frame = %s, want message push", f.Kind)
	}
	var push struct {
		Group   string `json:"group"`
		Chat    int64  `json:"chat"`
		Message struct {
			Contents string `json:"contents"`
		} `json:"message"`
	}
	if err := json.Unmarshal(f.Data, &push); err != nil {
		t.Fatalf("decode message push: %v", err)
	}
	if push.Group != group.ID || push.Chat != module.ID || push.Message.Contents != "hello over tls" {
		t.Errorf("message push = %+v, want hello over tls in %s/%d", push, group.ID, module.ID)
	}
}

// Shutdown notice: EndAll delivers the end frame to live sessions.
func TestRoundTrip_EndFrameOnShutdown(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	env.createAccount(t, c, "Alice", "alice@example.com", "p")

	env.engine.EndAll()

	f := c.readFrame(t)
	if f.Kind != comcore.PushEnd {
		t.Errorf("frame after EndAll = %s, want end", f.Kind)
	}
}

// Unauthenticated requests error without dropping the connection.
func TestRoundTrip_RequestsRequireLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	reply, _ := c.roundTrip(t, "getGroups", nil)
	if reply.Kind != comcore.KindError {
		t.Fatalf("getGroups before login = %s, want ERROR", reply.Kind)
	}

	// The connection survives; PING still works.
	reply, _ = c.roundTrip(t, "PING", nil)
	if reply.Kind != comcore.KindReply {
		t.Errorf("PING after rejected request = %s, want REPLY", reply.Kind)
	}
}
