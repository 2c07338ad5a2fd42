package service

import (
	"sort"
	"sync"
	"time"

	"classroom/internal/metrics"

	"golang.org/x/time/rate"
)

// TypingSignal is the ephemeral payload sent on a conversation's typing channel.
type TypingSignal struct {
	ConversationID uint      `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// TypingSet tracks who is currently typing. An entry expires window after its
// latest signal, measured on the local clock.
type TypingSet struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	until  map[uint]time.Time
}

func NewTypingSet(window time.Duration, now func() time.Time) *TypingSet {
	if now == nil {
		now = time.Now
	}
	return &TypingSet{window: window, now: now, until: make(map[uint]time.Time)}
}

// Mark records a signal from userID and reports whether the set changed.
func (t *TypingSet) Mark(userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	changed := t.pruneLocked(now)
	if _, ok := t.until[userID]; !ok {
		changed = true
	}
	t.until[userID] = now.Add(t.window)
	return changed
}

// Prune drops expired entries and reports whether any were removed.
func (t *TypingSet) Prune() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(t.now())
}

func (t *TypingSet) pruneLocked(now time.Time) bool {
	removed := false
	for id, until := range t.until {
		if !now.Before(until) {
			delete(t.until, id)
			removed = true
		}
	}
	return removed
}

// NextExpiry returns when the earliest entry lapses; ok is false for an empty set.
func (t *TypingSet) NextExpiry() (until time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.until {
		if !ok || u.Before(until) {
			until, ok = u, true
		}
	}
	return until, ok
}

// Active returns the typing users in ascending id order.
func (t *TypingSet) Active() []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())
	out := make([]uint, 0, len(t.until))
	for id := range t.until {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// typingThrottle caps how often one user may emit typing signals into one
// conversation.
type typingThrottle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[throttleKey]*throttleEntry
}

type throttleKey struct {
	conversationID uint
	userID         uint
}

type throttleEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const throttleSweepSize = 4096

func newTypingThrottle(perSecond float64, burst int) *typingThrottle {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &typingThrottle{limit: rate.Limit(perSecond), burst: burst, entries: make(map[throttleKey]*throttleEntry)}
}

func (t *typingThrottle) Allow(conversationID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if len(t.entries) >= throttleSweepSize {
		for k, e := range t.entries {
			if now.Sub(e.seen) > time.Minute {
				delete(t.entries, k)
			}
		}
	}
	key := throttleKey{conversationID: conversationID, userID: userID}
	e, ok := t.entries[key]
	if !ok {
		e = &throttleEntry{lim: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = e
	}
	e.seen = now
	if !e.lim.AllowN(now, 1) {
		metrics.TypingDropped.Inc()
		return false
	}
	return true
}

// typingRecheck is how long to wait before pruning set again: the time left
// until its earliest expiry, capped at max. ok is false when nobody is typing.
func typingRecheck(set *TypingSet, now time.Time, max time.Duration) (d time.Duration, ok bool) {
	until, ok := set.NextExpiry()
	if !ok {
		return 0, false
	}
	d = until.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > max {
		d = max
	}
	return d, true
}
