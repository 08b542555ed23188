// Command gridpulse-subscriber connects to a publisher and prints the
// measurements it receives.
//
// Usage:
//
//	gridpulse-subscriber [flags]
//
// Flags:
//
//	-addr string          Publisher address host:port
//	-find string          Locate the publisher via mDNS by name ("" = first found)
//	-id string            Subscriber UUID
//	-secret string        Shared secret (also read from GRIDPULSE_SECRET)
//	-signals string       Comma separated signal keys (default "*")
//	-udp string           Local UDP address for the data channel, e.g. :0
//	-encrypt              Request encrypted data packets
//	-reconnect            Restore the session after connection loss (default true)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Subscribe to every authorized signal over UDP with encryption
//	gridpulse-subscriber -addr 10.0.0.1:6165 -id 6f1c... -secret s3cret -udp :0 -encrypt
//
//	# Find a publisher on the local network
//	gridpulse-subscriber -find PMU-GATEWAY -id 6f1c... -secret s3cret
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-go/cmd/gridpulse-subscriber/interactive"
	"github.com/gridpulse/gridpulse-go/pkg/config"
	"github.com/gridpulse/gridpulse-go/pkg/discovery"
	gplog "github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/reconnect"
	gpsignal "github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/subscriber"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
	"github.com/gridpulse/gridpulse-go/pkg/version"
)

var (
	addr        = flag.String("addr", "", "Publisher address host:port")
	find        = flag.String("find", "", "Locate the publisher via mDNS by name")
	useMDNS     = flag.Bool("mdns", false, "Locate the publisher via mDNS even without -find")
	subID       = flag.String("id", "", "Subscriber UUID")
	secret      = flag.String("secret", os.Getenv("GRIDPULSE_SECRET"), "Shared secret")
	signals     = flag.String("signals", "*", "Comma separated signal keys")
	udp         = flag.String("udp", "", "Local UDP address for the data channel")
	encrypt     = flag.Bool("encrypt", false, "Request encrypted data packets")
	caFile      = flag.String("ca", "", "CA bundle to verify a TLS publisher")
	insecure    = flag.Bool("insecure", false, "Skip TLS certificate verification")
	reconn      = flag.Bool("reconnect", true, "Restore the session after connection loss")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	printEvery  = flag.Duration("print-every", time.Second, "Interval between printed frames (0 prints all)")
	interact    = flag.Bool("interactive", false, "Enable interactive command mode")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Describe())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var console *interactive.Console
	var out io.Writer = os.Stdout
	var errOut io.Writer = os.Stderr
	if *interact {
		var err error
		if console, err = interactive.New(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out, errOut = console.Stdout(), console.Stderr()
	}

	if err := run(ctx, cancel, out, errOut, console); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, out, errOut io.Writer, console *interactive.Console) error {
	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	id, err := uuid.Parse(*subID)
	if err != nil {
		return fmt.Errorf("invalid subscriber id %q: %w", *subID, err)
	}

	address := *addr
	if address == "" || *find != "" || *useMDNS {
		svc, err := locate(ctx, logger)
		if err != nil {
			return err
		}
		address = svc.Address()
	}

	cfg := subscriber.Config{
		Address:      address,
		SubscriberID: id,
		SharedSecret: *secret,
		Reconnect:    *reconn,
		Backoff:      reconnect.DefaultBackoffConfig(),
		Logger:       logger,
		OnFrame:      framePrinter(out, *printEvery),
		OnResponse: func(r *subscriber.Response) {
			logger.Info("response", "command", r.Command, "response", r.Response, "message", r.Message)
		},
	}
	if *caFile != "" || *insecure {
		cfg.TLS = &transport.TLSConfig{CAFile: *caFile, InsecureSkipVerify: *insecure}
	}
	if *protocolLog != "" {
		fileLogger, err := gplog.NewFileLogger(*protocolLog)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer fileLogger.Close()
		cfg.ProtocolLogger = fileLogger
	}

	client, err := subscriber.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	if *secret != "" {
		if err := client.Authenticate(ctx); err != nil {
			return err
		}
	}

	opts := subscriber.SubscribeOptions{
		Signals:    splitSignals(*signals),
		Encrypt:    *encrypt,
		UDPAddress: *udp,
	}
	resp, err := client.Subscribe(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("subscribed", "message", resp.Message, "signals", client.SignalCache().Len())

	if console != nil {
		go console.Run(ctx, cancel, client)
	}

	<-ctx.Done()
	logger.Info("shutting down", "status", client.Status())
	return nil
}

// locate browses mDNS for the publisher named by -find.
func locate(ctx context.Context, logger *slog.Logger) (*discovery.PublisherService, error) {
	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: discovery.BrowseTimeout,
		Logger:        logger,
	})
	logger.Info("searching for publisher", "name", *find)
	svc, err := browser.Find(ctx, *find)
	if err != nil {
		return nil, fmt.Errorf("publisher %q: %w", *find, err)
	}
	logger.Info("publisher found", "name", svc.Name, "address", svc.Address(), "secure", svc.Secure)
	return svc, nil
}

func splitSignals(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// framePrinter prints at most one frame per interval.
func framePrinter(w io.Writer, every time.Duration) func(*gpsignal.Frame) {
	var last atomic.Int64
	return func(f *gpsignal.Frame) {
		now := time.Now().UnixNano()
		if prev := last.Load(); every > 0 && now-prev < int64(every) {
			return
		}
		last.Store(now)

		var b strings.Builder
		fmt.Fprintf(&b, "%s %d values:", f.Timestamp.UTC().Format(time.RFC3339Nano), len(f.Measurements))
		for i, m := range f.Measurements {
			if i == 4 {
				b.WriteString(" ...")
				break
			}
			fmt.Fprintf(&b, " %s=%.4f", m.SignalID.String()[:8], m.Value)
		}
		fmt.Fprintln(w, b.String())
	}
}
