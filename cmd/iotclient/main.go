// iotclient connects a device to the relay and bridges stdin/stdout to its peer.
// Usage: go run ./cmd/iotclient --config configs/iotclient.example.yaml
//
// Every option can also come from the environment (IOT_TOKEN, IOT_CODE, ...)
// or a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/iot-relay/internal/archive"
	"github.com/rickgao/iot-relay/internal/config"
	"github.com/rickgao/iot-relay/internal/connection"
	"github.com/rickgao/iot-relay/internal/database"
	"github.com/rickgao/iot-relay/internal/logging"
	"github.com/rickgao/iot-relay/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}
	if opts.Version {
		fmt.Println(version.String())
		return 0
	}

	cfg, err := config.Resolve(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iotclient: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{
		Debug:    cfg.Debug,
		SaveLogs: cfg.SaveLogs,
		Dir:      cfg.Logs.Dir,
		MaxBytes: cfg.Logs.MaxBytes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iotclient: set up logging: %v\n", err)
		return 1
	}
	defer logger.Close()

	logger.Info("starting iotclient",
		"version", version.Version,
		"commit", version.Commit,
		"server", cfg.Server,
		"from", cfg.Code,
		"to", cfg.To,
		"transport", cfg.Transport,
	)

	// One process per device id on this host
	lock := flock.New(filepath.Join(os.TempDir(), fmt.Sprintf("iotclient-%d.lock", cfg.Code)))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("failed to acquire device lock", "path", lock.Path(), "error", err)
		return 1
	}
	if !locked {
		logger.Error("another iotclient is already running for this device", "code", cfg.Code, "lock", lock.Path())
		return 1
	}
	defer lock.Unlock()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var clientOpts []connection.ClientOption
	if traffic := logger.Traffic(); traffic != nil {
		clientOpts = append(clientOpts, connection.WithRecorder(traffic))
		logger.Info("recording relay traffic", "path", traffic.Path())
	}

	sup := connection.NewSupervisor(cfg.SupervisorConfig(), logger.Logger, clientOpts...)
	sup.Listeners().Add(printer(os.Stdout))

	// Optional archive of everything received
	var writer *archive.Writer
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to archive database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			return 1
		}
		defer pool.Close()

		writer = archive.NewWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger.With("component", "archive"))

		if err := writer.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create archive schema", "error", err)
			return 1
		}
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			return 1
		}
		sup.Listeners().Add(writer.Listener(cfg.Code, cfg.To))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := sup.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var healthServer *http.Server
	if cfg.Health.Port > 0 {
		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           createHealthHandler(sup, writer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	// stdin blocks in Read, so it lives outside the group
	go pumpInput(gctx, os.Stdin, sup, logger.Logger)

	g.Go(func() error {
		<-gctx.Done()
		sup.Terminate()
		if healthServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			healthServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	err = g.Wait()

	if writer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := writer.Stop(stopCtx); err != nil {
			logger.Error("archive final flush failed", "error", err)
		}
		stopCancel()
	}

	stats := sup.Counters().Snapshot()
	logger.Info("iotclient stopped",
		"sessions", stats.SessionsStarted,
		"sent", stats.MessagesSent,
		"received", stats.MessagesReceived,
	)

	if err != nil {
		logger.Error("iotclient failed", "error", err)
		return 1
	}
	return 0
}
