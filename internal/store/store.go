// Package store implements the shared in-memory key/value table and
// publish/subscribe channel registry at the heart of kvbus, plus the
// background reaper that evicts expired keys.
package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// entry is the value bound to one key. A zero ExpiresAt means the key
// never expires.
type entry struct {
	value     []byte
	id        uint64
	expiresAt time.Time
}

func (e entry) hasExpiry() bool { return !e.expiresAt.IsZero() }

// Store is the shared, mutex-guarded key/value table, expiration index
// and pub/sub channel registry. Every exported method is synchronous
// and never suspends while holding the lock. Store is safe for
// concurrent use by many goroutines.
type Store struct {
	mu          sync.Mutex
	entries     map[string]entry
	expirations *expirationIndex
	channels    map[string]*broadcaster
	nextID      uint64
	closed      bool

	wake         chan struct{}
	done         chan struct{}
	reaperExited chan struct{}

	now func() time.Time // overridable for tests

	evictions   atomic.Uint64
	fanoutDrops atomic.Uint64

	mirror atomic.Pointer[func(channel string, payload []byte)]
}

// SetMirror installs a sink invoked, outside the store's lock, with
// every successfully published message (including ones offered to zero
// subscribers) — the tap the Redis mirror bridge uses to republish
// kvbus traffic onto an external broker without the store importing it.
// Pass nil to remove a previously installed sink.
func (s *Store) SetMirror(sink func(channel string, payload []byte)) {
	if sink == nil {
		s.mirror.Store(nil)
		return
	}
	s.mirror.Store(&sink)
}

// Stats is a point-in-time snapshot of counters metrics polls
// periodically; Store itself never imports the metrics package.
type Stats struct {
	Evictions   uint64
	FanoutDrops uint64
	Subscribers int
}

// Stats returns cumulative eviction/drop counts and the current live
// subscriber count across every channel.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	subs := 0
	for _, b := range s.channels {
		subs += b.receiverCount()
	}
	s.mu.Unlock()

	return Stats{
		Evictions:   s.evictions.Load(),
		FanoutDrops: s.fanoutDrops.Load(),
		Subscribers: subs,
	}
}

// New creates a Store and starts its background expiration reaper.
func New() *Store {
	s := &Store{
		entries:      make(map[string]entry),
		expirations:  newExpirationIndex(),
		channels:     make(map[string]*broadcaster),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		reaperExited: make(chan struct{}),
		now:          time.Now,
	}
	go s.runReaper()
	return s
}

// Close signals the reaper to exit and waits for it to do so. It is
// safe to call Close more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	<-s.reaperExited
}

// Get returns a copy of the bytes bound to key, and whether key exists
// (and has not expired).
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Set binds value to key, replacing any previous entry (and its
// expiration record, if any) atomically. ttl of nil means the key never
// expires. The reaper is woken if this insertion becomes the earliest
// pending expiration.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	s.mu.Lock()

	prevEarliest, hadEarliest := s.expirations.peekWhen()

	s.nextID++
	id := s.nextID
	s.expirations.remove(key)

	e := entry{value: append([]byte(nil), value...), id: id}
	if ttl != nil {
		e.expiresAt = s.now().Add(*ttl)
		s.expirations.insert(e.expiresAt, id, key)
	}
	s.entries[key] = e

	newEarliest, hasNewEarliest := s.expirations.peekWhen()
	wake := hasNewEarliest && (!hadEarliest || newEarliest.Before(prevEarliest))

	s.mu.Unlock()

	if wake {
		s.notifyReaper()
	}
}

// Subscribe returns a new Subscription on channel, creating its
// broadcaster on first subscribe, along with the channel's subscriber
// count immediately after this subscription was added.
func (s *Store) Subscribe(channel string) (*Subscription, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.channels[channel]
	if !ok {
		b = newBroadcaster()
		s.channels[channel] = b
	}
	sub := b.subscribe(channel)
	return sub, b.receiverCount()
}

// Unsubscribe removes sub from its channel's broadcaster and returns the
// channel's remaining subscriber count. Known limitation (per spec's
// design notes): the broadcaster entry for the channel itself is never
// removed even once its last subscriber unsubscribes.
func (s *Store) Unsubscribe(sub *Subscription) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.b.unsubscribe(sub.id)
	return sub.b.receiverCount()
}

// Publish delivers message to channel's current subscribers and returns
// how many subscribers it was offered to. Publishing to a channel with
// no subscribers (or none ever created) returns 0 and drops the
// message.
func (s *Store) Publish(channel string, message []byte) int {
	s.mu.Lock()

	payload := append([]byte(nil), message...)
	offered := 0
	if b, ok := s.channels[channel]; ok {
		var drops int
		offered, drops = b.publish(Message{Channel: channel, Payload: payload})
		if drops > 0 {
			s.fanoutDrops.Add(uint64(drops))
		}
	}
	s.mu.Unlock()

	if sink := s.mirror.Load(); sink != nil {
		(*sink)(channel, payload)
	}
	return offered
}

// SnapshotEntry is one key's state as of the instant Snapshot was
// taken.
type SnapshotEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time // zero means no expiry
}

// Snapshot returns a point-in-time copy of every live key, for the
// periodic debug exporter. It briefly holds the store's lock; never
// call it from a hot path.
func (s *Store) Snapshot() []SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SnapshotEntry, 0, len(s.entries))
	for key, e := range s.entries {
		out = append(out, SnapshotEntry{
			Key:       key,
			Value:     append([]byte(nil), e.value...),
			ExpiresAt: e.expiresAt,
		})
	}
	return out
}

func (s *Store) notifyReaper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
