package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Hikari/common/redact"
	"github.com/bdobrica/Hikari/common/version"
	"github.com/bdobrica/Hikari/internal/hikari/app"
	"github.com/bdobrica/Hikari/internal/hikari/config"
)

type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "hikari",
		Short:        "Hikari - a Matrix chat companion with long-term memory",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			// Resolved after the dotenv load so the file can set it.
			if opts.configPath == "" {
				opts.configPath = os.Getenv("HIKARI_CONFIG")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $HIKARI_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config (missing is fine)")

	root.AddCommand(newRunCmd(opts), newVersionCmd(), newConfigCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Matrix and start answering messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(logger)
			logger.Info("starting", "version", version.Version, "commit", version.GitCommit)
			logger.Info("effective configuration", redactedAttrs(cfg)...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return scrubError(err, cfg)
			}
			return scrubError(a.Run(ctx), cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print it with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			r := cfg.Redacted()
			out := cmd.OutOrStdout()
			for _, k := range sortedKeys(r) {
				fmt.Fprintf(out, "%s: %v\n", k, r[k])
			}
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	})
	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// scrubError removes the configured credentials from err's message, which
// cobra prints verbatim. Upstream errors may echo the key or token back.
func scrubError(err error, cfg config.Config) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	scrubbed := redact.String(msg, cfg.Matrix.AccessToken, cfg.Provider.APIKey)
	if scrubbed == msg {
		return err
	}
	return errors.New(scrubbed)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func redactedAttrs(cfg config.Config) []any {
	r := cfg.Redacted()
	attrs := make([]any, 0, 2*len(r))
	for _, k := range sortedKeys(r) {
		attrs = append(attrs, k, r[k])
	}
	return attrs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
