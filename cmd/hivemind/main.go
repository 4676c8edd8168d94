// Command hivemind runs one agent of the question-answering fabric.
// The role flag (or configuration file) picks which: an asker terminal,
// a brainer terminal, or the memory relay between them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/hivemind/pkg/asker"
	"github.com/odvcencio/hivemind/pkg/brainer"
	"github.com/odvcencio/hivemind/pkg/bus"
	"github.com/odvcencio/hivemind/pkg/config"
	"github.com/odvcencio/hivemind/pkg/logging"
	"github.com/odvcencio/hivemind/pkg/memory"
	"github.com/odvcencio/hivemind/pkg/store"
)

// Version information - set via ldflags during build
var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", config.DefaultConfigPath, "path to the configuration file")
		role        = flag.String("role", "", "agent role: asker, brainer or memory (overrides the configuration)")
		debug       = flag.Bool("debug", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("hivemind %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivemind: %v\n", err)
		os.Exit(1)
	}
	if *role != "" {
		cfg.Role = *role
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "hivemind: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := logging.New(cfg.Role, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("agent terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	switch cfg.Role {
	case config.RoleAsker:
		// Human-paced connections disable the heartbeat so an idle
		// terminal is never torn down by the broker.
		b, err := bus.Dial(cfg.RabbitMQ, 0)
		if err != nil {
			return err
		}
		defer b.Close()
		return asker.New(b, log).Run(ctx)

	case config.RoleBrainer:
		b, err := bus.Dial(cfg.RabbitMQ, 0)
		if err != nil {
			return err
		}
		defer b.Close()
		return brainer.New(b, log).Run(ctx)

	case config.RoleMemory:
		return runMemory(ctx, cfg, log)

	default:
		return fmt.Errorf("%w: %q", config.ErrUnknownRole, cfg.Role)
	}
}

func runMemory(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	b, err := bus.Dial(cfg.RabbitMQ, bus.DefaultHeartbeat)
	if err != nil {
		return err
	}
	defer b.Close()

	st, err := store.NewMongoStore(ctx, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	return memory.New(b, st, log).Run(ctx)
}
