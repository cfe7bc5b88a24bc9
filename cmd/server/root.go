package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName           = "go-roomchat"
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "roomchat-server",
	Short: "Multi-room chat server speaking a framed JSON protocol over TCP and websockets",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.NewConfig(optionsFromViper())
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		os.Exit(run(cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default "+defaultConfigPath()+")")

	flags.String("addr", "localhost:9000", "chat server TCP address")
	flags.String("http-addr", "localhost:8000", "HTTP address for websockets, downloads and metrics, empty to disable")
	flags.String("db-driver", database.DriverSQLite, "database driver: sqlite, postgres or empty for in-memory only")
	flags.String("dsn", "", "database connection string (sqlite defaults to <data-dir>/roomchat.db)")
	flags.String("data-dir", filepath.Join(xdg.DataHome, appName), "directory for the database and published files")
	flags.String("signing-key", defaultSigningKey, "base64 encoded signing key for resume tokens")
	flags.Duration("token-expiry", config.DefaultTokenExpiry, "resume token lifetime")
	flags.Duration("upload-timeout", config.DefaultUploadTimeout, "idle time that ends a file upload")
	flags.Bool("compress-files", true, "store published files zstd compressed")
	flags.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS and websockets")
}

func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "roomchat.toml")
}

// initConfig layers flags, GOCHAT_ environment variables and the config
// file. A missing default config file is not an error.
func initConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	viper.SetEnvPrefix("GOCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetConfigType("toml")

	file := configFile
	if file == "" {
		file = defaultConfigPath()
		if _, err := os.Stat(file); err != nil {
			return nil
		}
	}

	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", file, err)
	}

	return nil
}

func optionsFromViper() config.Options {
	return config.Options{
		ServerAddr:     viper.GetString("addr"),
		HTTPAddr:       viper.GetString("http-addr"),
		DatabaseDriver: viper.GetString("db-driver"),
		DatabaseDSN:    viper.GetString("dsn"),
		DataDir:        viper.GetString("data-dir"),
		SigningKey:     viper.GetString("signing-key"),
		TokenExpiry:    viper.GetDuration("token-expiry"),
		UploadTimeout:  viper.GetDuration("upload-timeout"),
		CompressFiles:  viper.GetBool("compress-files"),
		AllowedOrigins: viper.GetStringSlice("allowed-origins"),
	}
}
