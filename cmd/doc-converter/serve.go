package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-converter/internal/api"
	"github.com/spherical/doc-converter/internal/app"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				cfg.Server.Port = port
			}

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Conversions block for the whole remote job.
			router := api.NewRouter(logger, a.Service, api.Config{
				RequestTimeout: cfg.ConversionRequestTimeout(),
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				Version:        version,
			})

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.EffectiveWriteTimeout(),
			}

			logger.Info().
				Str("addr", addr).
				Str("cache", cfg.Cache.Driver).
				Dur("write_timeout", srv.WriteTimeout).
				Bool("remote_configured", cfg.ServiceConfigured()).
				Msg("Starting doc-converter API")

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- srv.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("Server error")
					return err
				}
			case sig := <-shutdown:
				logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("Graceful shutdown failed")
				if err := srv.Close(); err != nil {
					logger.Error().Err(err).Msg("Forced shutdown failed")
				}
			}

			logger.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")

	return cmd
}
