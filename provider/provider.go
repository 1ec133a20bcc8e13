package provider

import (
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
	"github.com/spooky-finn/go-marketdata-sync/provider/feed"
)

var logger = logrus.WithField("component", "provider")

// Provider wires the pieces of the market-data client together: one stream
// client, one multiplexer on top of it, the REST api and the polling
// backstop, all converging on a single reconciliation cache. It is
// process-scoped state with an explicit lifecycle, injected into use cases
// rather than reached for as a global.
type Provider struct {
	Cache   *domain.Cache
	Client  *feed.StreamClient
	Mux     *feed.Multiplexer
	SyncAPI *feed.SyncAPI
	Poller  *feed.Poller
}

func NewProvider(conf *config.Config) *Provider {
	cache := domain.NewCache(domain.VolumeWeighted)
	client := feed.NewStreamClient(conf, cache)
	mux := feed.NewMultiplexer(client)
	syncAPI := feed.NewSyncAPI(conf)
	poller := feed.NewPoller(conf, syncAPI, cache, mux.Topics, client.Connected)

	// server-side subscriptions do not survive a reconnect
	client.OnStateChange(func(state feed.ConnState, _ int) {
		if state == feed.StateConnected {
			mux.Resubscribe()
		}
	})

	return &Provider{
		Cache:   cache,
		Client:  client,
		Mux:     mux,
		SyncAPI: syncAPI,
		Poller:  poller,
	}
}

// Init starts the streaming connection and the polling backstop.
func (p *Provider) Init() {
	logger.Info("starting market-data provider")
	p.Client.Start()
	p.Poller.Start()
}

// Close stops polling and tears the streaming connection down.
func (p *Provider) Close() {
	p.Poller.Stop()
	p.Client.Stop()
	logger.Info("market-data provider closed")
}
