package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/fitsgate/internal/catalog"
	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/config"
	"example.com/fitsgate/internal/server"
)

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	logs := cfg.Logs
	logs.Filename = "fitsd.log"
	closer, err := common.SetupLogging(logs, os.Stdout)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer closer.Close()

	var cat *catalog.Catalog
	if cfg.Catalog != "" {
		cat, err = catalog.Open(cfg.Catalog)
		if err != nil {
			common.Fatalf("catalog: %v", err)
		}
		defer cat.Close()
	}
	metrics := common.NewMetrics()
	metrics.Start()

	opts, err := server.OptionsFromConfig(cfg, cat, metrics)
	if err != nil {
		common.Fatalf("server options: %v", err)
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	common.Logf("fitsd listening on %s (default encoding %s, catalog %q)", listenAddr, opts.DefaultEncoding, cfg.Catalog)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	metrics.Stop()
	common.Logf("fitsd stopped: %s", metrics.Snapshot().Summary())
}
