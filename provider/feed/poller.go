package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
)

var pollLogger = logrus.WithField("component", "poller")

// streamSupersededFactor stretches the fast poll interval while the stream
// is connected: streamed updates supersede the poll, but the poll never
// stops entirely since it remains the correctness backstop.
const streamSupersededFactor = 3

// Poller periodically refreshes the cache from the REST api: focused topics
// on a fast interval, the ranked list on a medium one and channel health on
// a slow one. Results go through the cache's monotonic checks, so a poll can
// never regress state the stream already delivered.
type Poller struct {
	syncAPI   domain.SyncAPI
	cache     *domain.Cache
	topics    func() []string
	connected func() bool

	fastInterval   time.Duration
	mediumInterval time.Duration
	slowInterval   time.Duration
	listLimit      int
	listSort       string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(conf *config.Config, syncAPI domain.SyncAPI, cache *domain.Cache, topics func() []string, connected func() bool) *Poller {
	return &Poller{
		syncAPI:        syncAPI,
		cache:          cache,
		topics:         topics,
		connected:      connected,
		fastInterval:   conf.FastPollInterval,
		mediumInterval: conf.MediumPollInterval,
		slowInterval:   conf.SlowPollInterval,
		listLimit:      conf.TopicListLimit,
		listSort:       conf.TopicListSort,
	}
}

func (p *Poller) Start() {
	p.stopCh = make(chan struct{})
	p.wg.Add(3)
	go p.fastLoop()
	go p.mediumLoop()
	go p.slowLoop()
}

func (p *Poller) Stop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	p.stopCh = nil
}

func (p *Poller) fastLoop() {
	defer p.wg.Done()

	for {
		interval := p.fastInterval
		if p.connected() {
			interval *= streamSupersededFactor
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(interval):
		}

		for _, topic := range p.topics() {
			snap, err := p.syncAPI.FetchTopic(context.Background(), topic)
			if err != nil {
				pollLogger.Warnf("refresh of %s failed: %s", topic, err)
				continue
			}
			p.cache.ApplySnapshot(snap)
		}
	}
}

func (p *Poller) mediumLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.mediumInterval):
		}

		snaps, err := p.syncAPI.FetchAll(context.Background(), p.listLimit, p.listSort)
		if err != nil {
			pollLogger.Warnf("topic list refresh failed: %s", err)
			continue
		}

		for i := range snaps {
			p.cache.ApplySnapshot(&snaps[i])
		}
		if config.DebugMode {
			pollLogger.Debugf("refreshed %d topics", len(snaps))
		}
	}
}

func (p *Poller) slowLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.slowInterval):
		}

		health, err := p.syncAPI.FetchHealth(context.Background())
		if err != nil {
			pollLogger.Warnf("health refresh failed: %s", err)
			continue
		}
		p.cache.ApplyHealthMap(health)
	}
}
