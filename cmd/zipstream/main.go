package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/config"
	"github.com/sunr3d/zipstream/internal/entrypoint"
)

func main() {
	// A missing .env is fine: the environment and flags still apply.
	_ = godotenv.Load()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "zipstream",
		Usage: "Serves directories as zip archives streamed on the fly",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "throttling",
				Aliases: []string{"t"},
				Usage:   "Sleep between archive chunks",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Directory with the folders to archive",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to listen on",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			logger, err := createLogger(cfg.Debug, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("конфигурация загружена",
				zap.String("path_to_files", cfg.PathToFiles),
				zap.Bool("throttling", cfg.Throttling),
				zap.String("archiver", cfg.ArchiverBin),
			)

			if err := entrypoint.Run(ctx, cfg, logger); err != nil {
				logger.Error("сервер остановлен с ошибкой", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

// loadConfig applies explicitly set flags on top of the environment.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if command.IsSet("debug") {
		cfg.Debug = command.Bool("debug")
	}
	if command.IsSet("throttling") {
		cfg.Throttling = command.Bool("throttling")
	}
	if command.IsSet("path") {
		cfg.PathToFiles = command.String("path")
	}
	if command.IsSet("host") {
		cfg.HTTPHost = command.String("host")
	}
	if command.IsSet("port") {
		cfg.HTTPPort = command.String("port")
	}
	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация: %w", err)
	}
	return cfg, nil
}
