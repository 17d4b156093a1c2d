// Command esplinkd keeps a link to an ESP302 motion controller and serves its
// operations over HTTP.
//
// The configuration is read from the file given by --config, or from
// esplink.yaml in the working directory or /etc/esplink, and ESPLINK_*
// environment variables. With simulator.enabled set, an in-process simulator
// stands in for the controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/internal/config"
	"github.com/arloliu/go-esplink/internal/esp302sim"
	"github.com/arloliu/go-esplink/internal/httpapi"
	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "esplinkd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, flush, err := cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	defer flush()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Simulator.Enabled {
		sim := esp302sim.New(
			esp302sim.WithAxes(cfg.Device.Axes),
			esp302sim.WithLogger(log.With("component", "simulator")),
		)
		if _, err := sim.Start(cfg.Simulator.Addr); err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}
		defer sim.Close()
	}

	trCfg, err := cfg.TransportConfig(log)
	if err != nil {
		return err
	}
	tr, err := transport.New(trCfg)
	if err != nil {
		return err
	}
	tr.AddStateHandler(func(prev transport.State, cur transport.State) {
		log.Info("connection state changed", "prevState", prev, "newState", cur)
	})

	dispatcher, err := link.New(tr, cfg.LinkOptions(log)...)
	if err != nil {
		_ = tr.Close()
		return err
	}
	defer dispatcher.Close()

	ctrl, err := esp302.New(dispatcher, cfg.ControllerOptions(log)...)
	if err != nil {
		return err
	}

	if err := dispatcher.Open(ctx, cfg.Link.WaitConnected); err != nil {
		return fmt.Errorf("open link to %s: %w", tr.Addr(), err)
	}
	log.Info("esplinkd started", "device", tr.Addr(), "axes", ctrl.Axes(), "http", cfg.HTTP.Enabled)

	if !cfg.HTTP.Enabled {
		<-ctx.Done()
		log.Info("esplinkd stopping")

		return nil
	}

	srv, err := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, ctrl, dispatcher, tr, log)
	if err != nil {
		return err
	}

	err = srv.Start(ctx)
	log.Info("esplinkd stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
