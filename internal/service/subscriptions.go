package service

import (
	"sync"

	"github.com/talkline-io/talkline-api/internal/observability"
)

// subscriptionRegistry maps website id -> admin connections currently
// subscribed. Entries live exactly as long as the connection; the website key
// is dropped when its set empties.
type subscriptionRegistry struct {
	mu       sync.RWMutex
	websites map[string]map[*client]struct{}
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{websites: make(map[string]map[*client]struct{})}
}

func (r *subscriptionRegistry) subscribe(websiteID string, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.websites[websiteID]
	if !ok {
		set = make(map[*client]struct{})
		r.websites[websiteID] = set
	}
	if _, exists := set[c]; !exists {
		set[c] = struct{}{}
		observability.AdminSubscriptions().Inc()
	}
}

// unsubscribe removes the connection and reports whether the website's set
// became empty (last admin left).
func (r *subscriptionRegistry) unsubscribe(websiteID string, c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(websiteID, c)
}

// unsubscribeAll removes the connection everywhere and returns the website
// ids whose sets became empty.
func (r *subscriptionRegistry) unsubscribeAll(c *client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []string
	for websiteID := range r.websites {
		if r.removeLocked(websiteID, c) {
			emptied = append(emptied, websiteID)
		}
	}
	return emptied
}

func (r *subscriptionRegistry) removeLocked(websiteID string, c *client) bool {
	set, ok := r.websites[websiteID]
	if !ok {
		return false
	}
	if _, exists := set[c]; !exists {
		return false
	}
	delete(set, c)
	observability.AdminSubscriptions().Dec()
	if len(set) == 0 {
		delete(r.websites, websiteID)
		return true
	}
	return false
}

// online reports the admin-online aggregate: true iff at least one admin
// connection is currently subscribed to the website.
func (r *subscriptionRegistry) online(websiteID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.websites[websiteID]) > 0
}

// snapshot returns the current subscribers of a website.
func (r *subscriptionRegistry) snapshot(websiteID string) []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.websites[websiteID]
	out := make([]*client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
