package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mideita",
		Short: "Mideita idea backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newReconcileCommand(), newReplCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres DSN")
	flags.String("store-backend", defaults.GetString("store.backend"), "Authoritative store backend (sql, firestore)")
	flags.String("firestore-project", "", "Firestore project id")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("assets-bucket", "", "S3 bucket holding idea images")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the reconciler run lock")
	flags.String("local-path", defaults.GetString("local.path"), "Device cache path used by the repl")
	flags.String("api-url", "", "Remote ideas API used by the repl instead of a direct store")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "firestore.project_id", "firestore-project")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "assets.bucket", "assets-bucket")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "local.path", "local-path")
	bindFlag(cmd, "api.url", "api-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	err := viper.ReadInConfig()
	var configNotFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case cfgFile == "" && errors.As(err, &configNotFound):
		return nil
	default:
		return fmt.Errorf("read config: %w", err)
	}
}
