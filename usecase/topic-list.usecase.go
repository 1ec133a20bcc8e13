package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
)

// TopicListUseCase exposes the ranked set of all known topics. It does not
// acquire streamed interest of its own; the list is fed by the medium poll
// loop plus whatever topics other consumers stream.
type TopicListUseCase struct {
	cache      *domain.Cache
	syncAPI    domain.SyncAPI
	conn       domain.ConnStatus
	limit      int
	sortKey    string
	staleAfter time.Duration

	mu       sync.Mutex
	mounted  bool
	loading  bool
	fetchErr error
	cancel   context.CancelFunc
	sub      *domain.Subscription[string]
}

func NewTopicListUseCase(conf *config.Config, cache *domain.Cache, syncAPI domain.SyncAPI, conn domain.ConnStatus) *TopicListUseCase {
	return &TopicListUseCase{
		cache:      cache,
		syncAPI:    syncAPI,
		conn:       conn,
		limit:      conf.TopicListLimit,
		sortKey:    conf.TopicListSort,
		staleAfter: 2 * conf.MediumPollInterval,
	}
}

func (uc *TopicListUseCase) Mount() <-chan string {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.mounted {
		return uc.sub.Stream
	}
	uc.mounted = true
	uc.sub = uc.cache.Subscribe("")

	if len(uc.cache.Entries()) == 0 {
		uc.loading = true
		ctx, cancel := context.WithCancel(context.Background())
		uc.cancel = cancel
		go uc.fetch(ctx)
	}

	return uc.sub.Stream
}

func (uc *TopicListUseCase) Unmount() {
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
}

// View returns the topics ranked by the configured sort key, newest data
// first. Topics without an aggregate yet sort last.
func (uc *TopicListUseCase) View() View[[]domain.CacheEntry] {
	uc.mu.Lock()
	view := View[[]domain.CacheEntry]{
		IsLoading:        uc.loading,
		Err:              uc.fetchErr,
		ChannelConnected: uc.conn.Connected(),
	}
	uc.mu.Unlock()

	entries := uc.cache.Entries()
	sort.Slice(entries, func(i, j int) bool {
		return rank(&entries[i], uc.sortKey) > rank(&entries[j], uc.sortKey)
	})
	if uc.limit > 0 && len(entries) > uc.limit {
		entries = entries[:uc.limit]
	}
	view.Value = entries

	var newest int64
	for i := range entries {
		if ts := entries[i].LastUpdated(); ts > newest {
			newest = ts
		}
	}
	if newest > 0 {
		view.IsStale = time.Now().UnixMilli()-newest > uc.staleAfter.Milliseconds()
	}
	return view
}

func rank(entry *domain.CacheEntry, sortKey string) float64 {
	if entry.Aggregated == nil {
		return -1
	}
	switch sortKey {
	case "price":
		return entry.Aggregated.Price
	case "change":
		return entry.Aggregated.Change24h
	default:
		return entry.Aggregated.Volume24h
	}
}

func (uc *TopicListUseCase) fetch(ctx context.Context) {
	snaps, err := uc.syncAPI.FetchAll(ctx, uc.limit, uc.sortKey)

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
	for i := range snaps {
		uc.cache.ApplySnapshot(&snaps[i])
	}
}
