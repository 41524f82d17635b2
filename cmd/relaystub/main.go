// relaystub runs an in-process relay for trying iotclient without a real server.
// Usage: go run ./cmd/relaystub --echo
//
// Point two clients at it with matching --code/--to pairs, or run one client
// with --echo to get every message straight back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/iot-relay/internal/logging"
	"github.com/rickgao/iot-relay/internal/relaytest"
)

type options struct {
	HTTPAddr   string        `long:"http" default:":8080" description:"Subscribe endpoint address"`
	TCPAddr    string        `long:"tcp" default:":8000" description:"Line stream address"`
	WSAddr     string        `long:"ws" default:":8001" description:"WebSocket address (empty to disable)"`
	Echo       bool          `long:"echo" description:"Echo lines back to the sender when no peer is attached"`
	Status     int           `long:"status" description:"Force every subscribe to answer with this HTTP status"`
	StatsEvery time.Duration `long:"stats-every" default:"30s" description:"Log connection stats at this interval (0 disables)"`
	Debug      bool          `long:"debug" description:"Enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Debug: opts.Debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaystub: %v\n", err)
		os.Exit(1)
	}

	relay := relaytest.New(logger.With("component", "relay"))
	relay.SetEcho(opts.Echo)
	if opts.Status != 0 {
		relay.SetStatus(opts.Status)
	}
	if err := relay.Start(opts.HTTPAddr, opts.TCPAddr, opts.WSAddr); err != nil {
		logger.Error("failed to start relay", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if opts.StatsEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.StatsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("relay stats",
						"subscribes", relay.Subscribes(),
						"accepted", relay.Accepted(),
					)
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return relay.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Error("relay shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}
