package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/imrishuroy/go-order-settlement/internal/app"
	"github.com/imrishuroy/go-order-settlement/internal/config"
	"github.com/imrishuroy/go-order-settlement/internal/logging"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/reconciliation"
	"github.com/imrishuroy/go-order-settlement/internal/storage/postgres"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "settlectl",
		Usage: "order settlement admin tool",
		Commands: []*cli.Command{
			migrateCommand(),
			replayWebhookCommand(),
			transitionCommand(),
		},
	}
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL is not set")
	}
	return cfg.DatabaseURL, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or roll back schema migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					url, err := databaseURL()
					if err != nil {
						return err
					}
					if err := postgres.MigrateUp(url); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "migrations applied")
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: func(c *cli.Context) error {
					if c.Int("steps") < 1 {
						return errors.New("--steps must be at least 1")
					}
					url, err := databaseURL()
					if err != nil {
						return err
					}
					if err := postgres.MigrateDown(url, c.Int("steps")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "rolled back %d migration(s)\n", c.Int("steps"))
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: func(c *cli.Context) error {
					url, err := databaseURL()
					if err != nil {
						return err
					}
					v, dirty, err := postgres.MigrationVersion(url)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "version %d dirty=%t\n", v, dirty)
					return nil
				},
			},
		},
	}
}

// withApp loads configuration and wires the services for one command.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.Production())
	a, err := app.New(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(c.Context, a)
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func replayWebhookCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay-webhook",
		Usage: "apply a stored gateway webhook body",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "path to the raw JSON body"},
		},
		Action: func(c *cli.Context) error {
			body, err := os.ReadFile(c.String("file"))
			if err != nil {
				return errors.Wrap(err, "read webhook file")
			}
			ev, err := reconciliation.ParseWebhook(body)
			if err != nil {
				return err
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.Apply(ctx, ev)
				if err != nil {
					return err
				}
				return printJSON(c, out)
			})
		},
	}
}

func transitionCommand() *cli.Command {
	return &cli.Command{
		Name:  "transition",
		Usage: "move an order to a new status",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "order", Required: true},
			&cli.StringFlag{Name: "status", Required: true},
			&cli.StringFlag{Name: "actor", Value: "settlectl"},
			&cli.StringFlag{Name: "reason"},
		},
		Action: func(c *cli.Context) error {
			target := orders.Status(c.String("status"))
			if !target.Valid() {
				return fmt.Errorf("unknown status %q", target)
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				o, err := a.Status.Transition(ctx, orders.TransitionRequest{
					OrderID: c.String("order"),
					Target:  target,
					Actor:   c.String("actor"),
					Reason:  c.String("reason"),
				})
				if err != nil {
					return err
				}
				return printJSON(c, o)
			})
		},
	}
}
