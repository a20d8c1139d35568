package service

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrRateLimited signals a throttled send or connection attempt. Non-fatal on
// the socket; self-clears after the cooldown.
var ErrRateLimited = errors.New("rate limit exceeded")

const guardShardCount = 16

// Spec'd throttle defaults. Overridable through config.
const (
	DefaultConnectionLimit  = 100
	DefaultConnectionWindow = time.Hour
	DefaultMessageLimit     = 5
	DefaultMessageWindow    = 10 * time.Second
	DefaultMessageCooldown  = 30 * time.Second
)

func guardShard(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % guardShardCount
}

type connectionWindow struct {
	count int
	start time.Time
}

type connectionShard struct {
	mu      sync.Mutex
	entries map[string]*connectionWindow
}

// ConnectionLimiter caps connections per normalized domain within a fixed
// window. Windows reset lazily on the first check past expiry. Entries are
// sharded by key so unrelated domains never contend on one lock.
type ConnectionLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	shards [guardShardCount]*connectionShard
}

// NewConnectionLimiter builds a per-domain fixed-window counter.
func NewConnectionLimiter(limit int, window time.Duration) *ConnectionLimiter {
	if limit <= 0 {
		limit = DefaultConnectionLimit
	}
	if window <= 0 {
		window = DefaultConnectionWindow
	}

	l := &ConnectionLimiter{limit: limit, window: window, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &connectionShard{entries: make(map[string]*connectionWindow)}
	}
	return l
}

// Allow counts one connection attempt for the domain and reports whether it
// fits the current window. The increment is the only mutation.
func (l *ConnectionLimiter) Allow(domain string) bool {
	shard := l.shards[guardShard(domain)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := l.now()
	entry, ok := shard.entries[domain]
	if !ok || now.Sub(entry.start) >= l.window {
		entry = &connectionWindow{start: now}
		shard.entries[domain] = entry
	}

	entry.count++
	return entry.count <= l.limit
}

type messageWindow struct {
	count     int
	start     time.Time
	coolUntil time.Time
}

type messageShard struct {
	mu      sync.Mutex
	entries map[string]*messageWindow
}

// MessageLimiter caps messages per session within a fixed window. Exceeding
// the cap puts the session in a cooldown during which every send is rejected;
// once the cooldown elapses the window resets on the next message. Admin
// sessions bypass the limiter entirely.
type MessageLimiter struct {
	limit    int
	window   time.Duration
	cooldown time.Duration
	now      func() time.Time
	shards   [guardShardCount]*messageShard
}

// NewMessageLimiter builds a per-session fixed-window counter with cooldown.
func NewMessageLimiter(limit int, window, cooldown time.Duration) *MessageLimiter {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if window <= 0 {
		window = DefaultMessageWindow
	}
	if cooldown <= 0 {
		cooldown = DefaultMessageCooldown
	}

	l := &MessageLimiter{limit: limit, window: window, cooldown: cooldown, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &messageShard{entries: make(map[string]*messageWindow)}
	}
	return l
}

// Allow counts one send for the session. Returns ErrRateLimited while the
// session is over quota or cooling down.
func (l *MessageLimiter) Allow(sessionID string, isAdmin bool) error {
	if isAdmin {
		return nil
	}

	shard := l.shards[guardShard(sessionID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := l.now()
	entry, ok := shard.entries[sessionID]
	if !ok {
		entry = &messageWindow{start: now}
		shard.entries[sessionID] = entry
	}

	if !entry.coolUntil.IsZero() {
		if now.Before(entry.coolUntil) {
			return ErrRateLimited
		}
		*entry = messageWindow{start: now}
	}

	if now.Sub(entry.start) >= l.window {
		*entry = messageWindow{start: now}
	}

	entry.count++
	if entry.count > l.limit {
		entry.coolUntil = now.Add(l.cooldown)
		return ErrRateLimited
	}
	return nil
}

// Forget drops a session's throttle state on disconnect cleanup.
func (l *MessageLimiter) Forget(sessionID string) {
	shard := l.shards[guardShard(sessionID)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.entries, sessionID)
}
