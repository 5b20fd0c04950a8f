package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hostlink/hostlink/control"
	"github.com/hostlink/hostlink/manager"
	"github.com/hostlink/hostlink/manager/processes"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "127.0.0.1:9810", "control API listen address")
		runtimePath = flag.String("runtime", "", "path to the runtime host executable (required)")
		moduleRoot  = flag.String("modules", "", "module resolution root passed to spawned runtimes")
		workDir     = flag.String("workdir", "", "working directory for spawned runtimes")
		dbPath      = flag.String("db", "", "path to the session journal database (omit to disable journaling)")
		secretPath  = flag.String("secret", "/tmp/hostlink-control.key", "path to the shared control secret")
		minPort     = flag.Int("min-port", 10000, "lowest port assigned to runtimes")
		maxPort     = flag.Int("max-port", 19999, "highest port assigned to runtimes")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if *runtimePath == "" {
		logger.Error("-runtime is required")
		os.Exit(1)
	}

	secret, err := control.LoadSecret(*secretPath)
	if err != nil {
		logger.Error("Failed to load control secret", "error", err)
		os.Exit(1)
	}

	ports, err := processes.NewPortAllocator(*minPort, *maxPort)
	if err != nil {
		logger.Error("Failed to create port allocator", "error", err)
		os.Exit(1)
	}

	var journal *processes.Journal
	if *dbPath != "" {
		db, err := sqlx.Connect("sqlite3", *dbPath)
		if err != nil {
			logger.Error("Failed to open session journal database", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		journal, err = processes.NewJournal(db)
		if err != nil {
			logger.Error("Failed to initialize session journal", "error", err)
			os.Exit(1)
		}
	}

	supervisor, err := processes.NewSupervisor(processes.Config{
		RuntimePath: *runtimePath,
		ModuleRoot:  *moduleRoot,
		WorkDir:     *workDir,
		Ports:       ports,
		Journal:     journal,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create supervisor", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: manager.NewServer(supervisor, secret, logger).Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down control API", "error", err)
		}
		supervisor.Shutdown(shutdownCtx)
	}()

	logger.Info("HostLink manager listening", "address", *listenAddr, "runtime", *runtimePath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Control API server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HostLink manager stopped")
}
