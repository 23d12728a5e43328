package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/config"
	"github.com/danmuck/trictl/internal/exchange"
	"github.com/danmuck/trictl/internal/observability"
)

func main() {
	configPath := flag.String("config", "cmd/trictl/config.toml", "transfer config path")
	rank := flag.Int("rank", 0, "process rank: 0 listens, 1 dials")
	identity := flag.String("identity", "", "process identity (defaults to proc-<rank>)")
	metricsAddr := flag.String("metrics-addr", "", "admin listen addr (overrides config)")
	flag.Parse()

	observability.InitLogger("trictl")

	cfg, err := config.LoadTransferConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load transfer config")
	}
	log.Info().Str("path", *configPath).Msg("loaded transfer config")

	svcCfg := exchange.DefaultServiceConfig(*rank)
	svcCfg.Transfer = cfg
	if *identity != "" {
		svcCfg.Identity = *identity
	}
	svcCfg.MetricsAddr = cfg.MetricsAddr
	if *metricsAddr != "" {
		svcCfg.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := exchange.NewService(svcCfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "trictl: %v\n", err)
		os.Exit(1)
	}
}
