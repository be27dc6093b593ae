// Package cli — дерево команд бинарника drive.
package cli

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sir_venger/drive_lite/internal/config"
	"github.com/sir_venger/drive_lite/internal/logging"
)

var Version = "dev"

var (
	configPath string
	debug      bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "drive",
		Short:         "Self-hosted file drive: resumable uploads, remote fetch, archives",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenv("CONFIG_PATH", "./config.yaml"), "path to YAML config")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newUploadCmd(),
		newFetchCmd(),
		newTasksCmd(),
		newPasswdCmd(),
		newTokenCmd(),
	)
	return root
}

// Execute запускает CLI и печатает ошибку команды.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		printError(err.Error())
	}
	return err
}

// loadConfig читает конфиг и настраивает логгер под него.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logging.Init(level, cfg.LogPretty)
	log.Debug().Str("config", configPath).Msg("config loaded")
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
