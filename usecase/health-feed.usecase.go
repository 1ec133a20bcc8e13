package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
)

// HealthFeedUseCase exposes the per-source online/offline map of the
// upstream venues, fed by streamed health messages and the slow poll loop.
type HealthFeedUseCase struct {
	cache      *domain.Cache
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

func NewHealthFeedUseCase(conf *config.Config, cache *domain.Cache, syncAPI domain.SyncAPI, conn domain.ConnStatus) *HealthFeedUseCase {
	return &HealthFeedUseCase{
		cache:      cache,
		syncAPI:    syncAPI,
		conn:       conn,
		staleAfter: 2 * conf.SlowPollInterval,
	}
}

func (uc *HealthFeedUseCase) Mount() <-chan string {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.mounted {
		return uc.sub.Stream
	}
	uc.mounted = true
	uc.sub = uc.cache.Subscribe(domain.HealthTopic)

	if len(uc.cache.Health()) == 0 {
		uc.loading = true
		ctx, cancel := context.WithCancel(context.Background())
		uc.cancel = cancel
		go uc.fetch(ctx)
	}

	return uc.sub.Stream
}

func (uc *HealthFeedUseCase) Unmount() {
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

func (uc *HealthFeedUseCase) View() View[domain.ChannelHealth] {
	uc.mu.Lock()
	view := View[domain.ChannelHealth]{
		IsLoading:        uc.loading,
		Err:              uc.fetchErr,
		ChannelConnected: uc.conn.Connected(),
	}
	uc.mu.Unlock()

	health := uc.cache.Health()
	view.Value = health

	var newest int64
	for _, h := range health {
		if h.LastSeen > newest {
			newest = h.LastSeen
		}
	}
	if newest > 0 {
		view.IsStale = time.Now().UnixMilli()-newest > uc.staleAfter.Milliseconds()
	}
	return view
}

func (uc *HealthFeedUseCase) fetch(ctx context.Context) {
	health, err := uc.syncAPI.FetchHealth(ctx)

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
	uc.cache.ApplyHealthMap(health)
}
