package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/auth"
)

const (
	ServiceName      = "im-notify-gateway"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Real-time notification gateway",
		Version: fmt.Sprintf("%s (%s@%s, %s)", version, branch, commit, commitDate),
		Commands: []*cli.Command{
			serverCmd(),
			generateTokenCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the HTTP/WebSocket server and the queue bridge",
		// Flags are owned by config.Flags so env, file and flags share one schema.
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.Args().Slice())
			if err != nil {
				return err
			}

			if cfg.Application.Workers > 0 {
				runtime.GOMAXPROCS(cfg.Application.Workers)
			}

			app := NewApp(cfg)

			startCtx, cancel := context.WithTimeout(c.Context, app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancelStop()
			return app.Stop(stopCtx)
		},
	}
}

func generateTokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "generate_token",
		Usage:     "Issue a publishing token for the given subject",
		ArgsUsage: "<username>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("generate_token expects exactly one <username> argument", 2)
			}

			cfg, err := config.LoadConfig(nil)
			if err != nil {
				return err
			}

			ttl := time.Duration(cfg.Secret.JWT.Expiry) * time.Hour
			token, err := auth.Issue(c.Args().First(), ttl, cfg.Secret.JWT.Secret)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(c.App.Writer, token)
			return err
		},
	}
}
