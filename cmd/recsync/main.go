// Command recsync serves the dataset upload and recommendation read-out API.
//
// Usage:
//
//	recsync                 run the API, the job launcher and the Kafka trigger
//	recsync migrate         create the recommendation table and exit
//	recsync purge-shadow    delete leftover shadow keys and exit
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ammar0144/recsync"
	"github.com/ammar0144/recsync/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(ctx, command); err != nil {
		logging.Error().Err(err).Str("command", command).Msg("recsync failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, command string) error {
	cfg, err := recsync.LoadConfig()
	if err != nil {
		return err
	}

	switch command {
	case "serve":
	case "migrate":
		cfg.DB.AutoMigrate = true
	case "purge-shadow":
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or purge-shadow)", command)
	}

	app, err := recsync.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close connections")
		}
	}()

	switch command {
	case "migrate":
		logging.Info().Msg("recommendation table is up to date")
		return nil
	case "purge-shadow":
		n, err := app.Cache.PurgeShadow(ctx)
		if err != nil {
			return err
		}
		logging.Info().Int("keys", n).Msg("shadow generation purged")
		return nil
	}

	if err := app.Run(ctx); err != nil {
		return err
	}
	logging.Info().Msg("recsync stopped")
	return nil
}
