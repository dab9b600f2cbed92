package core

// Room groups clients under one external identifier.
// Members are keyed (chat connection id, document client id, call peer id) and
// kept in registration order so broadcasts are delivered in that order.
// A Room is not safe for concurrent use; relays touch it only from their loop.
type Room struct {
	ID      string
	members map[string]*Client
	order   []string
}

// NewRoom constructs a room with no clients.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Add inserts a client under key. Returns true if newly added.
func (r *Room) Add(key string, c *Client) bool {
	if _, exists := r.members[key]; exists {
		return false
	}
	r.members[key] = c
	r.order = append(r.order, key)
	return true
}

// Remove deletes the member under key. Returns the removed client and true if it was present.
func (r *Room) Remove(key string) (*Client, bool) {
	c, exists := r.members[key]
	if !exists {
		return nil, false
	}
	delete(r.members, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return c, true
}

// Get returns the member under key.
func (r *Room) Get(key string) (*Client, bool) {
	c, ok := r.members[key]
	return c, ok
}

// Has reports whether key is a member.
func (r *Room) Has(key string) bool {
	_, ok := r.members[key]
	return ok
}

// Keys returns member keys in registration order.
func (r *Room) Keys() []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// Broadcast queues payload for every member except the one keyed by except
// (pass "" to include everyone). Slow consumers whose queue is full are skipped.
func (r *Room) Broadcast(payload []byte, except string) (delivered, dropped int) {
	for _, key := range r.order {
		if key == except {
			continue
		}
		c := r.members[key]
		if c.Closed() {
			continue
		}
		if c.Send(payload) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
