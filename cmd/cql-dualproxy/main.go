package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"net/http"

	"github.com/cppla/cql-dualproxy/internal/config"
	"github.com/cppla/cql-dualproxy/internal/logging"
	"github.com/cppla/cql-dualproxy/internal/metrics"
	"github.com/cppla/cql-dualproxy/internal/server"
)

func main() {
	conf := flag.String("config", "", "Path to config file")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve /metrics on, empty disables it")
	flag.Parse()

	if *conf != "" {
		if err := config.Reload(*conf); err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	logger := logging.Logger
	defer logger.Sync()

	if config.GlobalCfg == nil {
		logger.Fatal("no configuration loaded, pass -config")
	}

	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg, logger)
	}

	logger.Info("cql-dualproxy starting")

	ctx := context.Background()
	wg := &sync.WaitGroup{}
	for _, l := range config.GlobalCfg.Listeners {
		var mh metrics.Handle = metrics.Noop{}
		if l.Metrics {
			mh = registry
		}
		wg.Add(1)
		go server.Listen(ctx, l, logger, mh, wg)
	}
	wg.Wait()

	logger.Info("cql-dualproxy stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
