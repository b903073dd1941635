package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nicebartender/onebot-bridge/autoreply"
	"github.com/nicebartender/onebot-bridge/commands"
	"github.com/nicebartender/onebot-bridge/db"
	"github.com/nicebartender/onebot-bridge/onebot"
	"github.com/nicebartender/onebot-bridge/schedule"
)

var version = "dev"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "onebot-bridge",
		Short:        "OneBot 11 bot over a forward WebSocket",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	bindFlags(cmd, &cfg)
	return cmd
}

func run(ctx context.Context, cfg Config) error {
	level, _ := parseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	var database *db.DB
	if cfg.DBPath != "" {
		var err error
		if database, err = db.Open(cfg.DBPath); err != nil {
			return err
		}
		defer database.Close()
	}

	client := onebot.New(onebot.Options{
		URL:           cfg.URL,
		AccessToken:   cfg.AccessToken,
		RetryDelay:    cfg.RetryDelay,
		ActionTimeout: cfg.ActionTimeout,
	})
	commands.NewRouter(client, database, version)
	health := newHealth(client)
	health.register(client)

	var jobs []schedule.Job
	if cfg.RulesPath != "" {
		rules, err := autoreply.Load(cfg.RulesPath)
		if err != nil {
			return err
		}
		if err := autoreply.Register(client, rules.Rules); err != nil {
			return err
		}
		jobs = rules.Schedules
	}
	scheduler, err := schedule.New(client, jobs)
	if err != nil {
		return err
	}

	slog.Info("onebot-bridge starting", "url", cfg.URL, "addr", cfg.ListenAddr, "version", version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	if cfg.ListenAddr != "" {
		srv := &http.Server{Addr: cfg.ListenAddr, Handler: health.mux()}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("onebot-bridge stopped")
	return err
}
