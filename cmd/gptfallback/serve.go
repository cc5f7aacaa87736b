package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gptfallback/internal/config"
	"github.com/MrWong99/gptfallback/internal/fallback"
	"github.com/MrWong99/gptfallback/internal/health"
	"github.com/MrWong99/gptfallback/internal/observe"
	"github.com/MrWong99/gptfallback/internal/resilience"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/bus"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the messagebus and answer fallback requests",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration and logging ─────────────────────────────────────────────
	cfg, exists, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	if exists {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if !d.Changed() {
				slog.Debug("config file rewritten without changes", "path", configPath)
				return
			}
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
			}
		})
		if err != nil {
			return err
		}
		defer w.Stop()
		cfg = w.Current()
	} else {
		slog.Info("no config file, using defaults", "path", configPath)
	}

	slog.Info("gptfallback starting",
		"version", version,
		"bus_url", cfg.Bus.URL,
		"listen_addr", cfg.Server.ListenAddr,
		"settings", cfg.Skill.SettingsPath,
		"skill_id", cfg.Skill.SkillID,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Skill ─────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	slog.Debug("llm providers registered", "names", reg.LLMNames())

	// A restarted messagebus forgets fallback registrations, so the skill
	// registers again on every connection.
	var skill *fallback.Skill
	client := bus.NewClient(cfg.Bus.URL,
		bus.WithReconnectBackoff(cfg.Bus.ReconnectMin, cfg.Bus.ReconnectMax),
		bus.WithWriteTimeout(cfg.Bus.WriteTimeout),
		bus.WithOnConnect(func(ctx context.Context) {
			if err := skill.Register(ctx); err != nil {
				slog.Warn("fallback registration failed", "err", err)
			}
		}),
	)
	store := settings.NewFileStore(cfg.Skill.SettingsPath)
	skill = fallback.New(client, store, reg,
		fallback.WithSkillID(cfg.Skill.SkillID),
		fallback.WithPriority(cfg.Skill.Priority),
		fallback.WithLang(cfg.Skill.Lang),
		fallback.WithContext(ctx),
		fallback.WithMetrics(metrics),
		fallback.WithBreaker(cfg.Skill.Breaker.CircuitBreaker()),
	)
	if err := skill.Initialize(ctx); err != nil {
		// Expected before the first connection; the on-connect hook retries.
		slog.Debug("initial registration deferred", "err", err)
	}

	// ── HTTP listener ─────────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "-" {
		mux := http.NewServeMux()
		health.New(
			health.Checker{Name: "bus", Check: func(context.Context) error {
				if !client.Connected() {
					return bus.ErrNotConnected
				}
				return nil
			}},
			health.Checker{Name: "settings", Optional: true, Check: func(context.Context) error {
				st, err := store.Load()
				if err != nil {
					return err
				}
				if !st.Configured() {
					return errors.New("no API key")
				}
				return st.Validate()
			}},
			health.Checker{Name: "llm", Optional: true, Check: func(context.Context) error {
				return openBreakers(skill.Breakers().States())
			}},
		).Register(mux)
		mux.Handle("GET /metrics", tel.MetricsHandler)

		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	// The bus outlives ctx so that the skill can deregister during shutdown.
	busCtx, cancelBus := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBus()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Run(busCtx); !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bus: %w", err)
		}
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			slog.Info("http listener started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := skill.Shutdown(sctx); err != nil {
			slog.Warn("skill shutdown", "err", err)
		}
		cancelBus()
		if srv != nil {
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// openBreakers reports the endpoints whose circuit breaker currently rejects
// calls.
func openBreakers(states map[string]resilience.State) error {
	var open []string
	for name, st := range states {
		if st == resilience.StateOpen {
			open = append(open, name)
		}
	}
	if len(open) == 0 {
		return nil
	}
	slices.Sort(open)
	return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
}
