package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketdata-sync/config"
	promclient "github.com/spooky-finn/go-marketdata-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-marketdata-sync/provider"
	"github.com/spooky-finn/go-marketdata-sync/usecase"
)

func main() {
	conf := config.Load()
	if config.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}

	p := provider.NewProvider(conf)
	p.Init()
	defer p.Close()

	go promclient.StartPromClientServer(conf.MetricsAddr)

	topic := "BTCUSDT"
	if len(os.Args) > 1 {
		topic = os.Args[1]
	}

	feed := usecase.NewTopicFeedUseCase(conf, topic, p.Cache, p.Mux, p.SyncAPI, p.Client)
	updates := feed.Mount()
	defer feed.Unmount()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-updates:
			view := feed.View()
			if view.Value != nil {
				fmt.Printf("%s price=%.2f change=%.2f%% sources=%d stale=%v connected=%v\n",
					topic, view.Value.Price, view.Value.Change24h,
					view.Value.SourceCount, view.IsStale, view.ChannelConnected)
			}
		case <-sigCh:
			return
		}
	}
}
