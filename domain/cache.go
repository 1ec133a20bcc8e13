package domain

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "cache")

// HealthTopic is the pseudo-topic under which channel-health notifications
// are delivered to listeners.
const HealthTopic = "@health"

// CacheEntry holds everything the cache knows about one topic. Entries are
// created lazily on the first snapshot or streamed message and live for the
// rest of the session.
type CacheEntry struct {
	Topic            string
	Aggregated       *AggregatedQuote
	PerSource        map[string]SourceQuote
	LastAggregatedTS int64
	LastSourceTS     map[string]int64
}

// LastUpdated returns the newest timestamp known for the entry, across the
// aggregate and every per-source row.
func (e *CacheEntry) LastUpdated() int64 {
	ts := e.LastAggregatedTS
	for _, sts := range e.LastSourceTS {
		if sts > ts {
			ts = sts
		}
	}
	return ts
}

// AggregateFunc consolidates the current per-source rows of a topic into a
// single quote. Registering one is optional: without it the cache only
// carries pre-aggregated values it receives.
type AggregateFunc func(perSource map[string]SourceQuote) AggregatedQuote

type cacheListener struct {
	topic string // empty string means every topic, including health
	ch    chan string
}

// Cache is the single source of truth consumers read from. It merges
// snapshots and streamed updates under a per-(topic, source) monotonic
// timestamp check: an update is applied only if strictly newer than the last
// applied one, so out-of-order and duplicate messages can never regress the
// stored state. That check is what makes concurrent writers safe beyond the
// mutex itself.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	health  ChannelHealth
	aggFn   AggregateFunc

	listeners      map[int]*cacheListener
	nextListenerID int

	// topics mutated inside the current apply call, flushed as one
	// notification batch so listeners wake up once per mutation batch
	dirty deque.Deque[string]
}

func NewCache(aggFn AggregateFunc) *Cache {
	return &Cache{
		entries:   make(map[string]*CacheEntry),
		health:    make(ChannelHealth),
		aggFn:     aggFn,
		listeners: make(map[int]*cacheListener),
	}
}

// ApplySourceQuote merges one venue's quote for a topic. Returns false when
// the update is stale or duplicate and was discarded.
func (c *Cache) ApplySourceQuote(topic string, q SourceQuote) bool {
	c.mu.Lock()
	applied := c.applySourceQuoteLocked(topic, q)
	batch := c.drainDirtyLocked()
	c.mu.Unlock()

	c.notify(batch)
	return applied
}

// ApplyAggregated merges a pre-aggregated quote for a topic, e.g. one that
// arrived over the stream without a source breakdown.
func (c *Cache) ApplyAggregated(topic string, agg AggregatedQuote) bool {
	c.mu.Lock()
	applied := c.applyAggregatedLocked(topic, agg)
	batch := c.drainDirtyLocked()
	c.mu.Unlock()

	c.notify(batch)
	return applied
}

// ApplySnapshot merges an authoritative snapshot. The aggregate part refreshes
// the aggregate view only; per-source rows already in the cache but absent
// from the snapshot are left untouched. Returns false when every part of the
// snapshot was stale.
func (c *Cache) ApplySnapshot(snap *TopicSnapshot) bool {
	c.mu.Lock()
	applied := c.applyAggregatedLocked(snap.Topic, snap.Aggregated)
	for _, q := range snap.PerSource {
		if c.applySourceQuoteLocked(snap.Topic, q) {
			applied = true
		}
	}
	batch := c.drainDirtyLocked()
	c.mu.Unlock()

	c.notify(batch)
	return applied
}

// ApplyHealth merges the liveness of a single source.
func (c *Cache) ApplyHealth(sourceID string, h SourceHealth) bool {
	c.mu.Lock()
	applied := c.applyHealthLocked(sourceID, h)
	batch := c.drainDirtyLocked()
	c.mu.Unlock()

	c.notify(batch)
	return applied
}

// ApplyHealthMap merges a full per-source health map from a REST refresh.
func (c *Cache) ApplyHealthMap(m ChannelHealth) bool {
	c.mu.Lock()
	applied := false
	for sourceID, h := range m {
		if c.applyHealthLocked(sourceID, h) {
			applied = true
		}
	}
	batch := c.drainDirtyLocked()
	c.mu.Unlock()

	c.notify(batch)
	return applied
}

func (c *Cache) applySourceQuoteLocked(topic string, q SourceQuote) bool {
	entry := c.entryLocked(topic)

	if last, ok := entry.LastSourceTS[q.SourceID]; ok && q.Timestamp <= last {
		logger.Debugf("discarding stale quote for %s from %s (ts=%d, last=%d)",
			topic, q.SourceID, q.Timestamp, last)
		return false
	}

	entry.PerSource[q.SourceID] = q
	entry.LastSourceTS[q.SourceID] = q.Timestamp

	if c.aggFn != nil {
		agg := c.aggFn(entry.PerSource)
		entry.Aggregated = &agg
		if agg.Timestamp > entry.LastAggregatedTS {
			entry.LastAggregatedTS = agg.Timestamp
		}
	}

	c.markDirtyLocked(topic)
	return true
}

func (c *Cache) applyAggregatedLocked(topic string, agg AggregatedQuote) bool {
	entry := c.entryLocked(topic)

	if agg.Timestamp <= entry.LastAggregatedTS {
		logger.Debugf("discarding stale aggregate for %s (ts=%d, last=%d)",
			topic, agg.Timestamp, entry.LastAggregatedTS)
		return false
	}

	snapshot := agg
	entry.Aggregated = &snapshot
	entry.LastAggregatedTS = agg.Timestamp

	c.markDirtyLocked(topic)
	return true
}

func (c *Cache) applyHealthLocked(sourceID string, h SourceHealth) bool {
	if existing, ok := c.health[sourceID]; ok && h.LastSeen < existing.LastSeen {
		return false
	}

	c.health[sourceID] = h
	c.markDirtyLocked(HealthTopic)
	return true
}

func (c *Cache) entryLocked(topic string) *CacheEntry {
	entry, ok := c.entries[topic]
	if !ok {
		entry = &CacheEntry{
			Topic:        topic,
			PerSource:    make(map[string]SourceQuote),
			LastSourceTS: make(map[string]int64),
		}
		c.entries[topic] = entry
	}
	return entry
}

func (c *Cache) markDirtyLocked(topic string) {
	for i := 0; i < c.dirty.Len(); i++ {
		if c.dirty.At(i) == topic {
			return
		}
	}
	c.dirty.PushBack(topic)
}

func (c *Cache) drainDirtyLocked() []notification {
	if c.dirty.Len() == 0 {
		return nil
	}

	batch := make([]notification, 0, c.dirty.Len())
	for c.dirty.Len() > 0 {
		topic := c.dirty.PopFront()
		for _, l := range c.listeners {
			if l.topic == "" || l.topic == topic {
				batch = append(batch, notification{ch: l.ch, topic: topic})
			}
		}
	}
	return batch
}

type notification struct {
	ch    chan string
	topic string
}

// notify wakes listeners outside the cache lock. Channels are buffered with
// capacity one and sends never block: a listener that has not drained its
// previous signal keeps a single pending one, which is its cue to re-read
// the cache.
func (c *Cache) notify(batch []notification) {
	for _, n := range batch {
		select {
		case n.ch <- n.topic:
		default:
		}
	}
}

// Subscribe registers interest in mutations of one topic, or of every topic
// (health included) when topic is empty. The returned stream carries the name
// of the mutated topic; readers are expected to re-read the cache.
func (c *Cache) Subscribe(topic string) *Subscription[string] {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	l := &cacheListener{topic: topic, ch: make(chan string, 1)}
	c.listeners[id] = l
	c.mu.Unlock()

	return &Subscription[string]{
		Stream: l.ch,
		Topic:  topic,
		Unsubscribe: func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		},
	}
}

// Entry returns a copy of the cache row for a topic.
func (c *Cache) Entry(topic string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[topic]
	if !ok {
		return CacheEntry{}, false
	}
	return copyEntry(entry), true
}

// Entries returns a copy of every cache row.
func (c *Cache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, copyEntry(entry))
	}
	return out
}

// Health returns a copy of the per-source health map.
func (c *Cache) Health() ChannelHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(ChannelHealth, len(c.health))
	for sourceID, h := range c.health {
		out[sourceID] = h
	}
	return out
}

func copyEntry(entry *CacheEntry) CacheEntry {
	cp := CacheEntry{
		Topic:            entry.Topic,
		LastAggregatedTS: entry.LastAggregatedTS,
		PerSource:        make(map[string]SourceQuote, len(entry.PerSource)),
		LastSourceTS:     make(map[string]int64, len(entry.LastSourceTS)),
	}
	if entry.Aggregated != nil {
		agg := *entry.Aggregated
		cp.Aggregated = &agg
	}
	for sourceID, q := range entry.PerSource {
		cp.PerSource[sourceID] = q
	}
	for sourceID, ts := range entry.LastSourceTS {
		cp.LastSourceTS[sourceID] = ts
	}
	return cp
}
