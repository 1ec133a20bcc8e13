package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
)

// TopicFeedUseCase is the per-topic entry point for a focused view (one
// trading pair). Mounting acquires streamed interest in the topic, fetches a
// snapshot when the cache is cold and exposes cache notifications; unmounting
// releases everything so no topic stays subscribed after its last consumer
// disappears.
type TopicFeedUseCase struct {
	topic      string
	cache      *domain.Cache
	broker     domain.TopicBroker
	syncAPI    domain.SyncAPI
	conn       domain.ConnStatus
	staleAfter time.Duration

	mu       sync.Mutex
	mounted  bool
	loading  bool
	fetchErr error
	cancel   context.CancelFunc
	sub      *domain.Subscription[string]
}

func NewTopicFeedUseCase(conf *config.Config, topic string, cache *domain.Cache, broker domain.TopicBroker, syncAPI domain.SyncAPI, conn domain.ConnStatus) *TopicFeedUseCase {
	return &TopicFeedUseCase{
		topic:      topic,
		cache:      cache,
		broker:     broker,
		syncAPI:    syncAPI,
		conn:       conn,
		staleAfter: 2 * conf.FastPollInterval,
	}
}

// Mount registers this consumer's interest and returns the notification
// stream; each received value is a cue to call View again. Mounting twice
// returns the same stream.
func (uc *TopicFeedUseCase) Mount() <-chan string {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.mounted {
		return uc.sub.Stream
	}
	uc.mounted = true
	uc.sub = uc.cache.Subscribe(uc.topic)
	uc.broker.Acquire(uc.topic)

	if _, ok := uc.cache.Entry(uc.topic); !ok {
		uc.loading = true
		ctx, cancel := context.WithCancel(context.Background())
		uc.cancel = cancel
		go uc.fetch(ctx)
	}

	return uc.sub.Stream
}

// Unmount drops interest in the topic. An in-flight snapshot fetch is
// abandoned: its eventual result is ignored. Safe to call twice.
func (uc *TopicFeedUseCase) Unmount() {
	uc.mu.Lock()
	if !uc.mounted {
		uc.mu.Unlock()
		return
	}
	uc.mounted = false
	if uc.cancel != nil {
		uc.cancel()
		uc.cancel = nil
	}
	sub := uc.sub
	uc.sub = nil
	uc.mu.Unlock()

	sub.Unsubscribe()
	uc.broker.Release(uc.topic)
}

// Refetch triggers a fresh snapshot fetch, e.g. from a retry affordance
// after a fetch error.
func (uc *TopicFeedUseCase) Refetch() {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !uc.mounted || uc.loading {
		return
	}
	uc.loading = true
	ctx, cancel := context.WithCancel(context.Background())
	uc.cancel = cancel
	go uc.fetch(ctx)
}

// View returns the current read model for the topic.
func (uc *TopicFeedUseCase) View() View[*domain.AggregatedQuote] {
	uc.mu.Lock()
	view := View[*domain.AggregatedQuote]{
		IsLoading:        uc.loading,
		Err:              uc.fetchErr,
		ChannelConnected: uc.conn.Connected(),
	}
	uc.mu.Unlock()

	entry, ok := uc.cache.Entry(uc.topic)
	if !ok {
		return view
	}

	view.Value = entry.Aggregated
	if last := entry.LastUpdated(); last > 0 {
		view.IsStale = time.Now().UnixMilli()-last > uc.staleAfter.Milliseconds()
	}
	return view
}

func (uc *TopicFeedUseCase) fetch(ctx context.Context) {
	snap, err := uc.syncAPI.FetchTopic(ctx, uc.topic)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.loading = false
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		uc.fetchErr = err
		return
	}

	uc.fetchErr = nil
	uc.cache.ApplySnapshot(snap)
}
