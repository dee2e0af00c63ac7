package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// needsDB marks commands that open the Postgres store before running.
const needsDB = "needs-db"

var (
	// DB is the database connection shared by store-side subcommands
	DB *store.Store
	// settings merges flags, ROLLCALL_* env vars and the config file for the running command
	settings *viper.Viper

	cfgFile    string
	dotenvFile string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Per-room face recognition attendance",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(dotenvFile); err != nil {
			return err
		}

		var err error
		settings, err = config.New(cmd.Flags(), cfgFile)
		if err != nil {
			return err
		}
		if err := setupLogging(settings.GetString("log-level")); err != nil {
			return err
		}

		if cmd.Annotations[needsDB] == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), resolveDBURL(settings.GetString("db-url")))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveDBURL returns flagURL, or builds a connection string from the
// POSTGRES_* environment, or falls back to a local default.
func resolveDBURL(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/rollcall"
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q (want debug|info|warn|error)", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json); flags and ROLLCALL_* env vars override it")
	pf.StringVar(&dotenvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.String("db-url", "", "PostgreSQL connection string (default: POSTGRES_* env or postgres://localhost:5432/rollcall)")
	pf.String("backend", "", "Attendance store base URL, e.g. http://localhost:8000")
}
