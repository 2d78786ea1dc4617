package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/adapters/manifest"
	"github.com/atvirokodosprendimai/storefront/internal/app"
	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"github.com/atvirokodosprendimai/storefront/migrations"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "storefront",
		Usage: "Storefront composition and versioning engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./storefront.sqlite",
				Sources: cli.EnvVars("STOREFRONT_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.BoolFlag{
				Name:    "sql-log",
				Sources: cli.EnvVars("STOREFRONT_SQL_LOG"),
				Usage:   "Log every SQL statement",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			publishThemeCommand(),
			historyCommand(),
			drainOutboxCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func baseConfig(c *cli.Command) app.Config {
	return app.Config{
		DBPath: c.String("db-path"),
		SQLLog: c.Bool("sql-log"),
	}
}

func cliMeta() domain.MutationMetadata {
	actor := os.Getenv("USER")
	if actor == "" {
		actor = "cli"
	}
	return domain.MutationMetadata{Actor: actor, Source: "cli"}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and dispatch change events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("STOREFRONT_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "api-token",
				Sources: cli.EnvVars("STOREFRONT_API_TOKEN"),
				Usage:   "Static token required on /v1 routes (X-API-Key or bearer)",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("STOREFRONT_WEBHOOK_URL"),
				Usage:   "Outbox event webhook target URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("STOREFRONT_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "dispatch-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("STOREFRONT_DISPATCH_INTERVAL"),
				Usage:   "Outbox polling interval",
			},
			&cli.IntFlag{
				Name:    "dispatch-max-attempts",
				Value:   5,
				Sources: cli.EnvVars("STOREFRONT_DISPATCH_MAX_ATTEMPTS"),
				Usage:   "Deliveries tried before an event is marked dead",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := baseConfig(c)
			cfg.Addr = c.String("addr")
			cfg.APIToken = c.String("api-token")
			cfg.WebhookURL = c.String("webhook-url")
			cfg.WebhookSecret = c.String("webhook-secret")
			cfg.Dispatch = usecase.DispatcherOptions{
				Interval:    c.Duration("dispatch-interval"),
				MaxAttempts: int(c.Int("dispatch-max-attempts")),
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Printf("close resources: %v", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("listening on %s", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.Printf("received signal %s", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and print the schema version",
		Action: func(ctx context.Context, c *cli.Command) error {
			engine, err := app.Open(ctx, baseConfig(c))
			if err != nil {
				return err
			}
			defer engine.Close()

			sqlDB, err := engine.DB.WriteSQLDB()
			if err != nil {
				return err
			}
			version, err := migrations.Version(ctx, sqlDB)
			if err != nil {
				return err
			}
			log.Printf("schema at version %d", version)
			return nil
		},
	}
}

func publishThemeCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish-theme",
		Usage: "Publish a theme version from a YAML manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "manifest",
				Required: true,
				Usage:    "Path to the theme manifest (theme.yaml)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			m, err := manifest.Load(c.String("manifest"))
			if err != nil {
				return err
			}
			engine, err := app.Open(ctx, baseConfig(c))
			if err != nil {
				return err
			}
			defer engine.Close()

			version, err := manifest.Publish(ctx, engine.Catalog, m, cliMeta())
			if err != nil {
				return fmt.Errorf("publish %s %s: %w", m.Theme.ID, m.Version, err)
			}
			log.Printf("published theme %s version %s as %s (schema %s)", version.ThemeID, version.Version, version.ID, version.SchemaHash)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print the change history of a store as JSON lines, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "store",
				Required: true,
				Usage:    "Store id",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 100,
				Usage: "Maximum number of events",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			engine, err := app.Open(ctx, baseConfig(c))
			if err != nil {
				return err
			}
			defer engine.Close()

			events, err := engine.Audit.StoreHistory(ctx, c.String("store"), 0, int(c.Int("limit")))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func drainOutboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "drain-outbox",
		Usage: "Publish every pending change event once and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("STOREFRONT_WEBHOOK_URL"),
				Usage:   "Outbox event webhook target URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("STOREFRONT_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := baseConfig(c)
			cfg.WebhookURL = c.String("webhook-url")
			cfg.WebhookSecret = c.String("webhook-secret")
			engine, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			n, err := engine.Dispatcher.Drain(ctx)
			stats := engine.Dispatcher.Stats()
			log.Printf("outbox drained: published=%d retried=%d dead=%d", n, stats.Retried, stats.Dead)
			return err
		},
	}
}
