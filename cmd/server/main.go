package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AngelCh415/deepdive/internal/aggregator"
	"github.com/AngelCh415/deepdive/internal/config"
	"github.com/AngelCh415/deepdive/internal/drilldown"
	"github.com/AngelCh415/deepdive/internal/httpx"
	"github.com/AngelCh415/deepdive/internal/ingest"
	"github.com/AngelCh415/deepdive/internal/observability"
	"github.com/AngelCh415/deepdive/internal/perspective"
	"github.com/AngelCh415/deepdive/internal/presets"
	"github.com/AngelCh415/deepdive/internal/session"
	"github.com/AngelCh415/deepdive/internal/warehouse"
)

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := loadRegistry(cfg.PerspectivesFile)
	if err != nil {
		logger.Error("perspectives", slog.String("err", err.Error()))
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := observability.New(promReg)

	var (
		wh     warehouse.Warehouse
		ready  func(context.Context) error
		loader *ingest.Loader
	)
	if cfg.WarehouseDSN != "" {
		pool, err := warehouse.Connect(ctx, cfg.WarehouseDSN)
		if err != nil {
			logger.Error("warehouse connect", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		wh = warehouse.NewPostgres(pool, reg.Columns())
		ready = pool.Ping
		logger.Info("warehouse", slog.String("backend", "postgres"), slog.String("table", cfg.WarehouseTable))
	} else {
		mem := warehouse.NewMemory()
		wh = mem
		if cfg.FactsURL != "" {
			loader = ingest.NewLoader(ingest.NewHTTPClient(cfg.HTTPTimeout), mem, cfg.FactsURL, reg.Columns(), logger, m)
			if _, err := loader.Run(ctx, nil); err != nil {
				logger.Warn("initial ingest failed", slog.String("err", err.Error()))
			}
		}
		logger.Info("warehouse", slog.String("backend", "memory"), slog.Int("facts", mem.Len()))
	}

	agg := aggregator.New(wh, reg, cfg.WarehouseTable, cfg.QueryTimeout, logger)
	sessions := session.NewManager(reg, drilldown.NewAnalyzer(agg, m), logger, m, session.Options{
		CacheTTL:      cfg.CacheTTL,
		CacheCapacity: cfg.CacheMaxEntries,
		MaxSessions:   cfg.SessionMax,
		IdleTTL:       cfg.SessionIdle,
	})

	r := httpx.NewRouter(httpx.Deps{
		Log:      logger,
		Registry: reg,
		Sessions: sessions,
		Presets:  presets.NewStore(reg),
		Loader:   loader,
		Gatherer: promReg,
		Ready:    ready,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func loadRegistry(path string) (*perspective.Registry, error) {
	if path == "" {
		return perspective.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return perspective.LoadYAML(f)
}
