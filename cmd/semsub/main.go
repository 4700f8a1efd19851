// Package main implements the semsub binary, a SPARQL 1.1 publish and
// subscribe broker in front of a SPARQL endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/semsub/broker"
	"github.com/c360/semsub/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semsub"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every command
type options struct {
	configPaths []string
	logLevel    string
	logFormat   string
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "SPARQL publish and subscribe broker",
		Long: `semsub sits in front of a SPARQL 1.1 endpoint and serves the SPARQL
protocol plus WebSocket subscriptions. After every update it re-evaluates
the affected subscriptions and notifies clients of added and removed
results. Notifications can also be published on NATS.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&opts.configPaths, "config", "c", nil,
		"Config file layers (YAML or JSON), later files override earlier ones")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides log.level)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"Log format: json, text (overrides log.format)")

	cmd.AddCommand(serveCmd(opts), validateCmd(opts), defaultsCmd(), versionCmd())
	return cmd
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
			slog.SetDefault(logger)
			logger.Info("Starting semsub", "version", Version, "build_time", BuildTime, "config", opts.configPaths)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := broker.New(broker.Deps{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("run broker: %w", err)
	}
	return nil
}

func validateCmd(opts *options) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show {
				fmt.Fprint(out, cfg.String())
			}
			fmt.Fprintln(out, "Configuration is valid")
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the effective configuration with secrets redacted")
	return cmd
}

func defaultsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print or write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			if output != "" {
				if err := cfg.SaveToFile(output); err != nil {
					return fmt.Errorf("write defaults: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the defaults to this file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// load reads the config layers and applies the log flags
func (o *options) load() (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range o.configPaths {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
