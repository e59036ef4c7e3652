package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/unifeed/internal/cli"
)

func main() {
	// Best effort: tokens referenced as ${ENV_VAR} in the config may live
	// in a local .env file.
	_ = godotenv.Load()

	setupLogging()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}

func setupLogging() {
	level := slog.LevelInfo
	switch os.Getenv("UNIFEED_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
