package messaging

import (
	"context"
	"strings"
	"sync"
)

// User is the external identity collaborator's view of a participant. The
// core persists only UserID references; names are resolved at read time for
// response payloads.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// Directory resolves user ids to profile data. Implementations may call out
// to the identity service; lookups are best-effort and a miss degrades to an
// id-only participant in responses.
type Directory interface {
	Lookup(ctx context.Context, userID string) (User, bool)
}

// StaticDirectory is an in-memory Directory for dev and tests.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStaticDirectory constructs a StaticDirectory seeded with users.
func NewStaticDirectory(users ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add inserts or replaces a user. Blank ids are ignored.
func (d *StaticDirectory) Add(u User) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return
	}
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// Lookup returns the user for id.
func (d *StaticDirectory) Lookup(_ context.Context, userID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return u, ok
}
