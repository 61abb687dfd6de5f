package comcore

import "sync"

// Registry is the process-wide map from user id to that user's logged-in
// connections. It routes push notifications and implements forced logout.
// Empty sets are removed so the map only tracks online users.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Client]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[*Client]struct{})}
}

// Register adds a connection to the user's session set.
func (r *Registry) Register(userID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.sessions[userID] = set
	}
	set[c] = struct{}{}
}

// Deregister removes a connection from the user's session set.
// Removing a connection that is not registered is a no-op.
func (r *Registry) Deregister(userID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
}

// clients snapshots the user's connections, excluding except.
func (r *Registry) clients(userID string, except *Client) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

// Forward sends a push frame to every connection of the user except the
// given one.
func (r *Registry) Forward(userID, kind string, data any, except *Client) {
	for _, c := range r.clients(userID, except) {
		c.Push(kind, data)
	}
}

// ForceLogout transitions every connection of the user other than except
// back to LoggedOut and sends each a logout push. The targets are removed
// from the registry before their state is touched so no push can race a
// concurrent Forward.
func (r *Registry) ForceLogout(userID string, except *Client) {
	r.mu.Lock()
	set := r.sessions[userID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		if c != except {
			targets = append(targets, c)
			delete(set, c)
		}
	}
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.forcedLogout()
	}
}

// Online reports how many distinct users currently have sessions.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
