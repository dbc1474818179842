// Command dataminr-pulse runs the alert-ingestion and serving core as a
// standalone process: it polls the vendor on a schedule, keeps a bounded
// in-memory cache, and answers the dispatch protocol over HTTP.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/config"
	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/dispatch"
	"github.com/polarityio/dataminr-pulse-limited/gateway"
	"github.com/polarityio/dataminr-pulse-limited/polling"
	"github.com/polarityio/dataminr-pulse-limited/render"
	"github.com/polarityio/dataminr-pulse-limited/store"
	"github.com/polarityio/dataminr-pulse-limited/supervisor"
	"github.com/polarityio/dataminr-pulse-limited/telemetry"
)

func main() {
	cfg, err := config.NewConfig(
		config.WithURL(os.Getenv("DATAMINR_URL")),
		config.WithCredentials(os.Getenv("DATAMINR_CLIENT_ID"), os.Getenv("DATAMINR_CLIENT_SECRET")),
	)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := telemetry.NewStructuredLogger("dataminr-pulse")
	telemetry.Initialize("dataminr-pulse")

	gw := gateway.New(gateway.Config{
		BaseURL:               cfg.URL,
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		MaxRetries:            cfg.MaxRetries,
		MaxQueueSize:          cfg.MaxQueueSize,
		QueueRequestTimeoutMs: cfg.QueueRequestTimeoutMs,
		Logger:                logger.WithComponent("gateway"),
	})

	st := store.New(cfg.CacheMaxItems, cfg.CacheMaxAgeMs, cfg.AlertTypes, logger.WithComponent("store"))

	mode := polling.IngestCursor
	if cfg.HMACMode {
		mode = polling.IngestHMACZip
	}
	engine := polling.New(gw, st, polling.Config{
		PollInterval:      cfg.PollInterval,
		ListsPollInterval: cfg.ListsPollInterval,
		DefaultPageSize:   cfg.DefaultPageSize,
		MaxPageSize:       cfg.MaxPageSize,
		MaxPages:          cfg.MaxPages,
		ListIDs:           cfg.ListIDs,
		Mode:              mode,
		DownloadURL:       cfg.DownloadURL,
		Logger:            logger.WithComponent("polling"),
	})

	sup := supervisor.New(engine)
	sup.Startup(logger.WithComponent("supervisor"))

	// A configured integration starts polling immediately rather than
	// waiting on the first dispatched request to carry credentials.
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		sup.EnsurePolling(context.Background(), cfg.ClientID, cfg.ClientSecret)
	}

	d := dispatch.New(gw, st, sup, render.NullRenderer{}, dispatch.Config{
		ListIDs:     cfg.ListIDs,
		AlertTypes:  cfg.AlertTypes,
		MaxPageSize: cfg.MaxPageSize,
		TrialMode:   cfg.TrialMode,
		Timezone:    cfg.Timezone,
	}, logger.WithComponent("dispatch"))

	handler := dispatch.NewHTTPHandler(d, core.DefaultCORSConfig(), logger.WithComponent("http"))

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", map[string]interface{}{"port": port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down", nil)
	sup.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
