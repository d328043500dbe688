// Command tetherd is the coordination daemon. It spawns the configured
// worker process, exposes the request API over HTTP, and records request
// history in SQLite. A file lock enforces a single instance per lock path.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/gofrs/flock"

	"github.com/seantiz/tether/internal/api"
	"github.com/seantiz/tether/internal/config"
	"github.com/seantiz/tether/internal/engine"
	"github.com/seantiz/tether/internal/store"
	"github.com/seantiz/tether/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel())

	logger.Info("tetherd: starting",
		"listen_addr", cfg.Server.ListenAddr,
		"db_path", cfg.Server.DBPath,
		"worker", cfg.Worker.Name,
	)

	lock := flock.New(cfg.Server.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		log.Fatalf("acquire lock: %v", err)
	}
	if !ok {
		log.Fatalf("another tetherd instance is already running (lock: %s)", cfg.Server.LockPath)
	}
	defer lock.Unlock()

	db, err := store.NewSQLiteStore(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	opts := worker.Options{
		Name:    cfg.Worker.Name,
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.Args,
		Scripts: cfg.Worker.Scripts,
	}
	if cfg.Worker.SourcePath != "" {
		src, err := os.ReadFile(cfg.Worker.SourcePath)
		if err != nil {
			log.Fatalf("read worker source: %v", err)
		}
		opts.Source = src
	}
	if opts.Command == "" {
		log.Fatal("worker command must be configured")
	}

	eng := engine.New(db, worker.NewProcessSpawner(logger), opts, logger)
	if err := eng.Start(context.Background()); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer eng.Close()

	srv := api.NewServer(cfg.Server.ListenAddr, db, eng, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
