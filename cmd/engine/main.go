package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/coinjoin-tracer/internal/api"
	"github.com/rawblock/coinjoin-tracer/internal/cache"
	"github.com/rawblock/coinjoin-tracer/internal/classify"
	"github.com/rawblock/coinjoin-tracer/internal/config"
	"github.com/rawblock/coinjoin-tracer/internal/engine"
	"github.com/rawblock/coinjoin-tracer/internal/explorer"
	"github.com/rawblock/coinjoin-tracer/internal/graph"
	"github.com/rawblock/coinjoin-tracer/internal/logging"
	"github.com/rawblock/coinjoin-tracer/internal/monitor"
	"github.com/rawblock/coinjoin-tracer/internal/tracer"
)

func main() {
	log := logging.New("main")

	cfgPath := getEnvOrDefault("CONFIG_FILE", "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expClient := explorer.New(explorer.Config{
		BaseURL:            cfg.Explorer.BaseURL,
		MinRequestInterval: cfg.Explorer.MinRequestInterval,
		MaxInFlight:        cfg.Explorer.MaxInFlight,
		Timeout:            cfg.Explorer.Timeout,
		RetryAttempts:      cfg.Explorer.RetryAttempts,
		RetryBaseDelay:     cfg.Explorer.RetryBaseDelay,
	})

	txCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)

	writer, err := graph.Connect(ctx, cfg.Store.URI, cfg.Store.Username, cfg.Store.Password, logging.New("graph"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to graph store")
	}
	defer writer.Close(ctx)

	heuristic := classify.NewHeuristic(classify.HeuristicConfig{
		ManyInputsThreshold:    cfg.Classifier.ManyInputsThreshold,
		ManyOutputsThreshold:   cfg.Classifier.ManyOutputsThreshold,
		UniformityMaxDistinct:  cfg.Classifier.UniformityMaxDistinct,
		DiversityMinAddresses:  cfg.Classifier.DiversityMinAddresses,
		LargeTxMinTotal:        cfg.Classifier.LargeTxMinTotal,
		PositiveScoreThreshold: cfg.Classifier.PositiveScoreThreshold,
		WasabiDenominations:    cfg.Classifier.WasabiDenominations,
		WasabiMinOutputs:       cfg.Classifier.WasabiMinOutputs,
		WhirlpoolDenominations: cfg.Classifier.WhirlpoolDenominations,
	})
	mlDetector := classify.NewMLDetector(cfg.Classifier.MLModelPath, cfg.Classifier.MLThreshold)
	classifier := classify.NewClassifier(heuristic, mlDetector)

	tr := tracer.New(expClient, txCache, classifier, writer, tracer.Config{
		MaxDepth:                  cfg.Tracer.MaxDepth,
		MaxBranchesPerNode:        cfg.Tracer.MaxBranchesPerNode,
		MaxTotalNodes:             cfg.Tracer.MaxTotalNodes,
		MaxWallClock:              cfg.Tracer.MaxWallClock,
		ConsecutiveNonCoinJoinCap: cfg.Tracer.ConsecutiveNonCoinJoinCap,
		MaxOutputsPerTx:           cfg.Tracer.MaxOutputsPerTx,
		MaxTxsPerAddress:          cfg.Tracer.MaxTxsPerAddress,
		ExpansionWorkers:          cfg.Tracer.ExpansionWorkers,
	})

	hub := api.NewHub(logging.New("stream"))
	go hub.Run()

	mon := monitor.New(expClient, classifier, tr, monitor.Config{
		TickInterval:   cfg.Monitor.TickInterval,
		WorkerPoolSize: cfg.Monitor.WorkerPoolSize,
		QueueCapacity:  cfg.Monitor.QueueCapacity,
	}, logging.New("monitor"), hub.PublishDetection)

	if cfg.Monitor.Autostart {
		mon.Start(ctx)
	}

	facade := engine.New(tr, engine.Config{MaxConcurrentInvestigations: int64(cfg.Server.MaxConcurrentInvestigations)})

	rateLimiter := api.NewRateLimiter(cfg.Server.RateLimitPerMin, cfg.Server.RateLimitBurst)
	handler := api.NewHandler(facade, mon, writer, txCache, hub, logging.New("api"))
	router := api.SetupRouter(handler, cfg.Server.AllowedOrigins, rateLimiter, logging.New("api"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.BindPort)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info().Str("addr", addr).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	mon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
