// loancli runs a loan conversation in the terminal and inspects stored
// sessions, using the same configuration as the server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/lendflow/internal/app"
	"github.com/ashureev/lendflow/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	build := func() (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.Build(cfg, logger)
	}

	if err := newRootCmd(build).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
