package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemgr/bridge"
	"github.com/srg/blemgr/internal/devicefactory"
	"github.com/srg/blemgr/internal/events"
	"github.com/srg/blemgr/pkg/config"
)

// app is the per-command runtime: one bridge over the platform transport
// and the buffered event stream it emits into.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	bridge *bridge.Bridge
	events *events.ChannelSink
	out    *printer
}

// newApp loads configuration and starts a bridge. The caller must call close.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	format, _ := cmd.Flags().GetString("format")
	out, err := newPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger := configureLogger(cfg)
	transport, err := devicefactory.TransportFactory(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE transport: %w", err)
	}

	sink := events.NewChannelSink(cfg.EventBuffer, logger)
	b, err := bridge.New(bridge.Options{
		Transport:        transport,
		Sink:             events.MultiSink{sink, events.NewLogSink(logger)},
		Logger:           logger,
		ChunkSize:        cfg.ChunkSize,
		ChunkDelay:       cfg.ChunkDelay,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := b.Start(); err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, bridge: b, events: sink, out: out}, nil
}

// disconnect releases id, logging instead of failing since the command result is already known.
func (a *app) disconnect(id string) {
	if err := a.bridge.Disconnect(id, true); err != nil {
		a.logger.WithFields(logrus.Fields{"peripheral": id, "error": err}).Debug("Disconnect on exit failed")
	}
}

// drain prints events already buffered without waiting for more.
func (a *app) drain() {
	for {
		select {
		case ev, ok := <-a.events.Events():
			if !ok {
				return
			}
			a.out.Event(ev)
		default:
			return
		}
	}
}

func (a *app) close() {
	a.drain()
	a.events.Close()
	if stats := a.events.Stats(); stats.Dropped > 0 {
		a.logger.WithFields(logrus.Fields{
			"emitted": stats.Emitted,
			"dropped": stats.Dropped,
		}).Warn("Some events were dropped before they could be printed")
	}
}

// commandContext returns the command context cancelled on Ctrl+C or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return notifyContext(parent)
}
