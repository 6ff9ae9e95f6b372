package gateway

import "sync"

// registry is the process-local connection registry: which connections
// belong to which user, and which connections sit in which guild room.
// It is exclusively owned by its gateway instance and never shared or
// mirrored to other processes.
type registry struct {
	mu    sync.RWMutex
	users map[string]map[string]*client // userID -> connID -> client
	rooms map[string]map[string]*client // guildID -> connID -> client
}

func newRegistry() *registry {
	return &registry{
		users: make(map[string]map[string]*client),
		rooms: make(map[string]map[string]*client),
	}
}

// add records a freshly authenticated connection.
func (r *registry) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[c.userID] == nil {
		r.users[c.userID] = make(map[string]*client)
	}
	r.users[c.userID][c.id] = c
}

// remove drops a connection from every room and from its user's set.
// The last connection removes the user entry entirely.
func (r *registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for guildID := range c.rooms {
		r.leaveLocked(guildID, c)
	}
	if conns, ok := r.users[c.userID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(r.users, c.userID)
		}
	}
}

// join adds a connection to a guild's room.
func (r *registry) join(guildID string, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[guildID] == nil {
		r.rooms[guildID] = make(map[string]*client)
	}
	r.rooms[guildID][c.id] = c
	c.rooms[guildID] = struct{}{}
}

// leave removes a connection from a guild's room without closing it.
func (r *registry) leave(guildID string, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(guildID, c)
}

func (r *registry) leaveLocked(guildID string, c *client) {
	if conns, ok := r.rooms[guildID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(r.rooms, guildID)
		}
	}
	delete(c.rooms, guildID)
}

// roomClients returns a snapshot of the connections in a guild's room.
func (r *registry) roomClients(guildID string) []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.rooms[guildID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// evict removes every connection of a user from a guild's room and
// returns the user's connections for notification. This is the only path
// where a bus event mutates gateway-side state.
func (r *registry) evict(guildID, userID string) []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*client, 0, len(conns))
	for _, c := range conns {
		r.leaveLocked(guildID, c)
		out = append(out, c)
	}
	return out
}

// all returns a snapshot of every live connection, used at shutdown.
func (r *registry) all() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*client
	for _, conns := range r.users {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// roomSize reports the number of connections in a room.
func (r *registry) roomSize(guildID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[guildID])
}

// userCount reports the number of tracked users.
func (r *registry) userCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
