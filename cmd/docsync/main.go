package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opendms/docsync/internal/config"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/sync"
	"github.com/opendms/docsync/internal/utils"
	"github.com/opendms/docsync/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "docsync",
	Short:   "DocSync keeps a local folder and a document repository in sync",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer engine.Stop()

		if err := engine.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(green("syncing"), cyan(cfg.DataDir))

		<-cmd.Context().Done()
		defer slog.Info("bye")
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "DocSync config file")
	rootCmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "local folder to synchronize")
	rootCmd.PersistentFlags().StringP("server", "s", "", "repository server URL")
	rootCmd.PersistentFlags().StringP("repository", "r", "", "repository id")
	rootCmd.PersistentFlags().StringP("username", "u", "", "repository account")
	rootCmd.PersistentFlags().StringP("password", "p", "", "repository password")
}

func configFromViper() (*config.Config, error) {
	cfg := &config.Config{
		Path:              viper.ConfigFileUsed(),
		DataDir:           viper.GetString("data_dir"),
		ServerURL:         viper.GetString("server_url"),
		RepositoryID:      viper.GetString("repository_id"),
		RemoteFolderID:    viper.GetString("remote_folder_id"),
		Username:          viper.GetString("username"),
		Password:          viper.GetString("password"),
		DeviceID:          viper.GetString("device_id"),
		ChunkSize:         viper.GetInt64("chunk_size"),
		ChangeLogPageSize: viper.GetInt("changelog_page_size"),
		PollInterval:      viper.GetDuration("poll_interval"),
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = config.DefaultChunkSize
	}
	if cfg.ChangeLogPageSize == 0 {
		cfg.ChangeLogPageSize = config.DefaultChangeLogPageSize
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEngine(cfg *config.Config) (*sync.Engine, error) {
	session := remote.NewHTTPSession(cfg.ServerURL, cfg.RepositoryID, cfg.Username, cfg.Password)
	return sync.NewEngine(cfg, session)
}

func main() {
	// local developer overrides, ignored when absent
	_ = godotenv.Load()

	logFile := config.DefaultLogFile
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory: %v\n", err)
		os.Exit(1)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewFanoutLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".docsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/docsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("repository_id", cmd.Flags().Lookup("repository"))
	viper.BindPFlag("username", cmd.Flags().Lookup("username"))
	viper.BindPFlag("password", cmd.Flags().Lookup("password"))

	viper.SetEnvPrefix("DOCSYNC")
	viper.AutomaticEnv()

	return nil
}
