package main

import (
	"flag"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"

	"github.com/pubkit/adcoord/auction"
	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/eventbus"
	"github.com/pubkit/adcoord/metrics"
	"github.com/pubkit/adcoord/partners"
	"github.com/pubkit/adcoord/router"
	"github.com/pubkit/adcoord/server"
	"github.com/pubkit/adcoord/targeting"
	"github.com/pubkit/adcoord/util/task"
	"github.com/pubkit/adcoord/util/timeutil"
)

func main() {
	flag.Parse() // required for glog flags

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("Configuration could not be loaded or did not pass validation: %v", err)
	}

	if err := serve(cfg); err != nil {
		glog.Exitf("adcoord failed: %v", err)
	}
}

const configFileName = "adcoord"

func loadConfig() (*config.Configuration, error) {
	v := viper.New()
	config.SetupViper(v, configFileName)
	return config.New(v)
}

func serve(cfg *config.Configuration) error {
	bus := eventbus.New()
	clock := timeutil.RealTime{}
	engine := metrics.NewMetrics(gometrics.NewPrefixedRegistry("adcoord."))

	registry := auction.NewRegistry(cfg.Partners, bus, engine)
	partnerOrchestrator := partners.NewOrchestrator(cfg.Partners, bus, engine, clock)
	auctionOrchestrator := auction.NewOrchestrator(
		cfg.Auction, cfg.Adapters, registry, bus, engine, clock, targeting.ExactMatchEvaluator{})

	partnerOrchestrator.Init(partners.Options{
		OnAllReady: func() {
			glog.Info("all gated partner tiers settled; ad requests unblocked")
		},
	})
	registry.InitAll(map[string]string{})

	pruner := task.NewTickerTask(
		time.Duration(cfg.Archive.PruneIntervalSeconds)*time.Second,
		&auction.ArchivePruner{
			Orchestrator: auctionOrchestrator,
			TTL:          time.Duration(cfg.Archive.TTLSeconds) * time.Second,
		},
	)
	pruner.Start()
	defer pruner.Stop()

	r := router.New(partnerOrchestrator, auctionOrchestrator)
	return server.Listen(cfg, gziphandler.GzipHandler(router.SupportCORS(r)))
}
