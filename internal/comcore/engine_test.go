package comcore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/infodancer/comcore/internal/email"
	"github.com/infodancer/comcore/internal/logging"
	"github.com/infodancer/comcore/internal/store"
)

// pipeWriter collects outbound frames for inspection.
type pipeWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *pipeWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	return nil
}

// take decodes and clears every buffered frame.
func (w *pipeWriter) take(t *testing.T) []Frame {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()

	frames := make([]Frame, 0, len(w.lines))
	for _, line := range w.lines {
		var f Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			t.Fatalf("malformed outbound frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	w.lines = nil
	return frames
}

// rig wires an engine to an in-memory store and a capturing email sender.
type rig struct {
	t       *testing.T
	ctx     context.Context
	engine  *Engine
	store   *store.MemStore
	capture *email.Capture
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st := store.NewMemStore()
	capture := email.NewCapture()
	engine := NewEngine(EngineConfig{
		Store:  st,
		Sender: capture,
		Logger: logging.Discard(),
	})
	return &rig{
		t:       t,
		ctx:     context.Background(),
		engine:  engine,
		store:   st,
		capture: capture,
	}
}

func (r *rig) newClient() (*Client, *pipeWriter) {
	w := &pipeWriter{}
	return r.engine.NewClient(w), w
}

// request sends one frame and splits the output into the reply (the single
// REPLY or ERROR frame) and any pushes, in emission order.
func (r *rig) request(c *Client, w *pipeWriter, kind string, data any) (Frame, []Frame) {
	r.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		r.t.Fatalf("marshal request data: %v", err)
	}
	line, err := json.Marshal(Frame{Kind: kind, Data: payload})
	if err != nil {
		r.t.Fatalf("marshal request frame: %v", err)
	}

	c.HandleLine(r.ctx, string(line))

	frames := w.take(r.t)
	var reply Frame
	found := false
	pushes := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if !found && (f.Kind == KindReply || f.Kind == KindError) {
			reply = f
			found = true
			continue
		}
		pushes = append(pushes, f)
	}
	if !found {
		r.t.Fatalf("request %s produced no reply, frames: %+v", kind, frames)
	}
	return reply, pushes
}

// reply sends a frame, requires a REPLY, and decodes its payload into out.
func (r *rig) reply(c *Client, w *pipeWriter, kind string, data, out any) []Frame {
	r.t.Helper()
	f, pushes := r.request(c, w, kind, data)
	if f.Kind != KindReply {
		r.t.Fatalf("request %s: got %s frame %s, want REPLY", kind, f.Kind, f.Data)
	}
	if out != nil {
		if err := json.Unmarshal(f.Data, out); err != nil {
			r.t.Fatalf("decode %s reply %s: %v", kind, f.Data, err)
		}
	}
	return pushes
}

// fail sends a frame, requires an ERROR, and returns its message plus any
// pushes that followed the error.
func (r *rig) fail(c *Client, w *pipeWriter, kind string, data any) (string, []Frame) {
	r.t.Helper()
	f, pushes := r.request(c, w, kind, data)
	if f.Kind != KindError {
		r.t.Fatalf("request %s: got %s frame %s, want ERROR", kind, f.Kind, f.Data)
	}
	var ed errorData
	if err := json.Unmarshal(f.Data, &ed); err != nil {
		r.t.Fatalf("decode error payload %s: %v", f.Data, err)
	}
	return ed.Message, pushes
}

// createUser runs the full account-creation flow over the protocol and
// returns a logged-in client.
func (r *rig) createUser(name, addr, pass string) (*Client, *pipeWriter, string) {
	r.t.Helper()
	c, w := r.newClient()

	var created createdReply
	r.reply(c, w, "createAccount", map[string]string{
		"name": name, "email": addr, "pass": pass,
	}, &created)
	if !created.Created {
		r.t.Fatalf("createAccount(%s) replied created=false", addr)
	}

	code := r.capture.LastCode(addr)
	if code == "" {
		r.t.Fatalf("no confirmation code delivered for %s", addr)
	}

	var correct correctReply
	pushes := r.reply(c, w, "enterCode", map[string]string{"code": code}, &correct)
	if !correct.Correct {
		r.t.Fatalf("enterCode(%s) rejected the delivered code", addr)
	}

	userID := loginPushID(r.t, pushes)
	return c, w, userID
}

// loginPushID extracts the user id from a login push.
func loginPushID(t *testing.T, pushes []Frame) string {
	t.Helper()
	for _, f := range pushes {
		if f.Kind != PushLogin {
			continue
		}
		var data loginData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatalf("decode login push %s: %v", f.Data, err)
		}
		return data.ID
	}
	t.Fatalf("no login push in %+v", pushes)
	return ""
}

// connectAs opens a second logged-in session for an existing user by
// registering it directly, the way a connect request would.
func (r *rig) connectAs(userID, name string) (*Client, *pipeWriter) {
	r.t.Helper()
	c, w := r.newClient()
	c.loginAs(userID, name, "test-token")
	w.take(r.t) // drop the login push
	return c, w
}

// makeGroup creates a group with a chat module owned by the client's user.
func (r *rig) makeGroup(c *Client, w *pipeWriter) (group string, chat int64) {
	r.t.Helper()

	var groupReply idReply
	r.reply(c, w, "createGroup", map[string]string{"name": "G"}, &groupReply)

	var moduleReply struct {
		ID int64 `json:"id"`
	}
	r.reply(c, w, "createModule", map[string]any{
		"group": groupReply.ID, "name": "main", "type": "chat",
	}, &moduleReply)

	return groupReply.ID, moduleReply.ID
}

// hasPush reports whether a push of the given kind was emitted.
func hasPush(frames []Frame, kind string) bool {
	for _, f := range frames {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
