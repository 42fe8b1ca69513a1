package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"firehouse/internal/app"
	"firehouse/internal/config"
	"firehouse/internal/handlers"
	"firehouse/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string
	root := &cobra.Command{
		Use:           "firehouse",
		Short:         "Users and forum posts over a document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with FIREHOUSE_* overrides")
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		return loadEnv(envFile)
	}

	root.AddCommand(
		newServeCmd(&configPath),
		newSeedCmd(&configPath),
	)
	return root
}

// loadEnv exports the variables of a dotenv file. A missing file is not
// an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// boot loads the configuration, the logger and the backends. The returned
// cleanup releases all three.
func boot(ctx context.Context, configPath string) (*config.Config, *logging.Logger, *app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	log, closeLog, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		closeLog()
		return nil, nil, nil, nil, err
	}
	return cfg, log, a, func() {
		a.Close()
		closeLog()
	}, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, a, cleanup, err := boot(ctx, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handlers.New(a, cfg.Server.CorsAllowedOrigins, log).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				log.Info(ctx, "listening", "addr", cfg.Server.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info(context.Background(), "shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
