// Command gridpulse-publisher streams synthetic measurements to subscribers.
//
// The publisher accepts subscriber command channels, authenticates them
// against the configured shared secrets, and publishes frames from a
// random-value source on a fixed rate grid.
//
// Usage:
//
//	gridpulse-publisher [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-listen string        Command channel address (overrides config)
//	-rate float           Frames per second (overrides config)
//	-generate int         Number of SIM:n signals to add (overrides config)
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-metrics string       Prometheus listen address, e.g. :9102
//	-advertise            Advertise via mDNS (overrides config)
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Publish 100 generated signals at 30 frames/s without authentication
//	gridpulse-publisher -config publisher.yaml -generate 100
//
//	# Debug a single subscriber session
//	gridpulse-publisher -config publisher.yaml -log-level debug -protocol-log pub.glog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpulse/gridpulse-go/cmd/gridpulse-publisher/interactive"
	"github.com/gridpulse/gridpulse-go/pkg/config"
	"github.com/gridpulse/gridpulse-go/pkg/discovery"
	gplog "github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/publisher"
	gpsignal "github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/source"
	"github.com/gridpulse/gridpulse-go/pkg/version"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	listen      = flag.String("listen", "", "Command channel address (overrides config)")
	rate        = flag.Float64("rate", 0, "Frames per second (overrides config)")
	generate    = flag.Int("generate", -1, "Number of SIM:n signals to add (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	metrics     = flag.String("metrics", "", "Prometheus listen address")
	advertise   = flag.Bool("advertise", false, "Advertise via mDNS (overrides config)")
	interact    = flag.Bool("interactive", false, "Enable interactive command mode")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Describe())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var console *interactive.Console
	var out io.Writer = os.Stderr
	if *interact {
		console, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out = console.Stderr()
	}

	if err := run(ctx, cancel, cfg, out, console); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	if *listen != "" {
		cfg.Publisher.Listen = *listen
	}
	if *rate > 0 {
		cfg.Source.Rate = *rate
	}
	if *generate >= 0 {
		cfg.Source.Generate = *generate
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.ProtocolLog = *protocolLog
	}
	if *metrics != "" {
		cfg.Metrics.Listen = *metrics
	}
	if *advertise {
		cfg.Discovery.Enabled = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, out io.Writer, console *interactive.Console) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting", "version", version.Describe(), "protocol", version.Current)

	signals, err := cfg.SignalList()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pubCfg := cfg.PublisherSettings()
	pubCfg.Logger = logger
	pubCfg.Registerer = registry

	if cfg.Log.ProtocolLog != "" {
		fileLogger, err := gplog.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer fileLogger.Close()
		pubCfg.ProtocolLogger = fileLogger
		logger.Info("protocol logging enabled", "path", cfg.Log.ProtocolLog)
	}

	catalog, err := gpsignal.NewCatalog(signals)
	if err != nil {
		return err
	}
	pub, err := publisher.New(pubCfg, catalog)
	if err != nil {
		return err
	}
	if err := pub.Start(ctx); err != nil {
		return err
	}
	defer pub.Stop()
	logger.Info("publisher listening", "addr", pub.Addr(), "secure", pub.Secure(), "signals", len(signals))

	srcCfg := cfg.SourceSettings(signals)
	srcCfg.Logger = logger
	src, err := source.New(srcCfg, func(f *gpsignal.Frame) { pub.Broadcast(f) })
	if err != nil {
		return err
	}
	srcDone := make(chan error, 1)
	go func() { srcDone <- src.Run(ctx) }()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics enabled", "addr", cfg.Metrics.Listen)
	}

	if cfg.Discovery.Enabled {
		adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
			Logger:    logger,
		})
		info := &discovery.PublisherInfo{
			Name:    cfg.Publisher.Name,
			Version: version.Current,
			Secure:  pub.Secure(),
			Port:    listenPort(pub.Addr()),
		}
		if err := adv.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	if console != nil {
		go console.Run(ctx, cancel, pub, src)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := <-srcDone; err != nil {
		logger.Warn("source stopped", "error", err)
	}
	return nil
}

// listenPort extracts the TCP port the publisher is bound to.
func listenPort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return discovery.DefaultPort
	}
	n, _ := strconv.ParseUint(port, 10, 16)
	return uint16(n)
}
