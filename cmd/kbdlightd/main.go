package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("kbdlightd v%s\n", version)
	fmt.Println("Keyboard backlight activity daemon for UPower")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  kbdlightd [OPTIONS] <input-device>")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches a Linux input device. Any activity sets the keyboard backlight")
	fmt.Println("  to full brightness through UPower; after a quiet period the backlight")
	fmt.Println("  fades out. Brightness changes made by other programs are tracked so")
	fmt.Println("  the daemon never re-sends a level the backlight already has.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -status-listen string")
	fmt.Printf("        Serve a read-only status websocket at ADDR%s (default disabled)\n", defaultStatusPath)
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  kbdlightd /dev/input/by-path/platform-i8042-serio-0-event-kbd")
	fmt.Println("  kbdlightd -status-listen 127.0.0.1:7311 /dev/input/event3")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input device (root or the 'input' group)")
	fmt.Println("  - Requires UPower with a KbdBacklight object on the system bus")
	fmt.Println()
}

func main() {
	var (
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		statusListen = flag.String("status-listen", "", "Address for the status websocket (empty disables it)")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "error: exactly one input device path is required")
		fmt.Fprintln(os.Stderr, "usage: kbdlightd [OPTIONS] <input-device>")
		os.Exit(2)
	}

	cfg := DefaultConfig()
	cfg.Device = flag.Arg(0)

	// Only flags given on the command line override defaults.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "status-listen":
			overrides.StatusListen = statusListen
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.LogLevel)
	logger := setupLogger(os.Stderr, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run wires the daemon and blocks until ctx is canceled. It returns an error
// only for startup failures.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	dev, err := openInputDevice(cfg.Device, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	backlight, err := NewKbdBacklightClient(logger)
	if err != nil {
		return err
	}
	defer backlight.Close()

	state := &brightnessState{}
	seedBrightness(ctx, backlight, state, cfg.Fade, logger)

	var status *statusPublisher
	if cfg.StatusListen != "" {
		status = newStatusPublisher(64, logger)
	}

	cmds := make(chan int32, commandQueueLen)
	act := newActuator(backlight, state, status, logger)
	fade := newFadeController(cfg.Fade, cmds, status, logger)

	// Tasks fail independently: nothing here cancels ctx, and each task logs
	// its own terminal error and returns nil.
	var g errgroup.Group

	g.Go(func() error {
		act.Run(ctx, cmds)
		return nil
	})

	g.Go(func() error {
		syncLogger := logger.With("component", "sync")
		if err := runBrightnessSync(ctx, backlight, state, status, syncLogger); err != nil {
			syncLogger.Warn("brightness sync stopped; every level will be sent", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		inputLogger := logger.With("component", "input", "device", cfg.Device)
		if err := watchDevice(ctx, dev, fade.Activity, inputLogger); err != nil {
			inputLogger.Error("input watcher stopped; no further fades", "error", err)
		}
		return nil
	})

	if status != nil {
		statusLogger := logger.With("component", "status")
		srv := NewStatusServer(statusLogger, func() statusSnapshot {
			return statusSnapshot{
				Brightness: state.Snapshot(),
				Fade:       fade.State(),
				Fades:      fade.Started(),
			}
		}, HubConfig{})

		mux := http.NewServeMux()
		srv.Register(mux, cfg.StatusPath)

		g.Go(func() error {
			srv.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, srv.Hub(), status.Events(), statusLogger)
			return nil
		})
		g.Go(func() error {
			if err := runStatusServer(ctx, cfg.StatusListen, mux, statusLogger); err != nil {
				statusLogger.Error("status server stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("running", "device", cfg.Device, "status_listen", cfg.StatusListen)

	<-ctx.Done()
	logger.Info("shutting down")

	// Unblock the device read and end the bus subscription.
	_ = dev.Close()
	_ = backlight.Close()
	fade.Stop()

	return g.Wait()
}

// seedBrightness primes the cache from the service so the first redundant
// level can already be suppressed. Failures only cost that suppression.
func seedBrightness(ctx context.Context, backlight *KbdBacklightClient, state *brightnessState, fade FadeConfig, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if maxLevel, err := backlight.GetMaxBrightness(ctx); err != nil {
		logger.Warn("could not query max keyboard brightness", "error", err)
	} else if maxLevel < fade.Full {
		logger.Warn("keyboard backlight max is below the full level; the service may clamp or reject it",
			"max_brightness", maxLevel, "full", fade.Full)
	} else {
		logger.Debug("keyboard backlight", "max_brightness", maxLevel)
	}

	level, err := backlight.GetBrightness(ctx)
	if err != nil {
		logger.Warn("could not query keyboard brightness", "error", err)
		return
	}
	state.Set(level, time.Now())
	logger.Debug("initial brightness", "level", level)
}
