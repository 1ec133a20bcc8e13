package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-marketdata-sync/domain"
)

func seedListCache(cache *domain.Cache) {
	ts := time.Now().UnixMilli()
	cache.ApplySnapshot(&domain.TopicSnapshot{
		Topic:      "BTCUSDT",
		Aggregated: domain.AggregatedQuote{Price: 50000, Change24h: 1.0, Volume24h: 9000, Timestamp: ts},
	})
	cache.ApplySnapshot(&domain.TopicSnapshot{
		Topic:      "ETHUSDT",
		Aggregated: domain.AggregatedQuote{Price: 3000, Change24h: 5.0, Volume24h: 12000, Timestamp: ts},
	})
	cache.ApplySnapshot(&domain.TopicSnapshot{
		Topic:      "XMRBTC",
		Aggregated: domain.AggregatedQuote{Price: 0.004, Change24h: -2.0, Volume24h: 100, Timestamp: ts},
	})
}

func TestTopicList_MountFetchesWhenCold(t *testing.T) {
	cache := domain.NewCache(nil)
	api := &fakeSyncAPI{list: []domain.TopicSnapshot{
		{Topic: "BTCUSDT", Aggregated: domain.AggregatedQuote{Price: 50000, Volume24h: 9000, Timestamp: time.Now().UnixMilli()}},
		{Topic: "ETHUSDT", Aggregated: domain.AggregatedQuote{Price: 3000, Volume24h: 12000, Timestamp: time.Now().UnixMilli()}},
	}}

	uc := NewTopicListUseCase(testConf(), cache, api, fakeConnStatus{})
	uc.Mount()
	defer uc.Unmount()

	require.Eventually(t, func() bool {
		view := uc.View()
		return len(view.Value) == 2 && !view.IsLoading
	}, time.Second, time.Millisecond)
}

func TestTopicList_MountSkipsFetchWhenWarm(t *testing.T) {
	cache := domain.NewCache(nil)
	seedListCache(cache)
	api := &fakeSyncAPI{}

	uc := NewTopicListUseCase(testConf(), cache, api, fakeConnStatus{})
	uc.Mount()
	defer uc.Unmount()

	time.Sleep(20 * time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 0, api.allCalls)
}

func TestTopicList_RankedByVolume(t *testing.T) {
	cache := domain.NewCache(nil)
	seedListCache(cache)

	uc := NewTopicListUseCase(testConf(), cache, &fakeSyncAPI{}, fakeConnStatus{})
	uc.Mount()
	defer uc.Unmount()

	view := uc.View()
	require.Len(t, view.Value, 3)
	assert.Equal(t, "ETHUSDT", view.Value[0].Topic)
	assert.Equal(t, "BTCUSDT", view.Value[1].Topic)
	assert.Equal(t, "XMRBTC", view.Value[2].Topic)
	assert.False(t, view.IsStale)
}

func TestTopicList_RankedByChange(t *testing.T) {
	cache := domain.NewCache(nil)
	seedListCache(cache)

	conf := testConf()
	conf.TopicListSort = "change"
	uc := NewTopicListUseCase(conf, cache, &fakeSyncAPI{}, fakeConnStatus{})
	uc.Mount()
	defer uc.Unmount()

	view := uc.View()
	require.Len(t, view.Value, 3)
	assert.Equal(t, "ETHUSDT", view.Value[0].Topic)
	assert.Equal(t, "XMRBTC", view.Value[2].Topic)
}

func TestTopicList_LimitApplied(t *testing.T) {
	cache := domain.NewCache(nil)
	seedListCache(cache)

	conf := testConf()
	conf.TopicListLimit = 2
	uc := NewTopicListUseCase(conf, cache, &fakeSyncAPI{}, fakeConnStatus{})
	uc.Mount()
	defer uc.Unmount()

	view := uc.View()
	require.Len(t, view.Value, 2)
	assert.Equal(t, "ETHUSDT", view.Value[0].Topic)
}

func TestTopicList_NotifiedOnAnyTopicMutation(t *testing.T) {
	cache := domain.NewCache(nil)
	seedListCache(cache)

	uc := NewTopicListUseCase(testConf(), cache, &fakeSyncAPI{}, fakeConnStatus{})
	updates := uc.Mount()
	defer uc.Unmount()

	cache.ApplyAggregated("DOGEUSDT", domain.AggregatedQuote{Price: 0.1, Timestamp: time.Now().UnixMilli()})

	select {
	case topic := <-updates:
		assert.Equal(t, "DOGEUSDT", topic)
	default:
		t.Fatal("list view must be notified about any topic mutation")
	}
}
