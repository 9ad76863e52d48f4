package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"morphoview/controllers"
	"morphoview/wsi"
)

func newServeCmd(opts *rootOptions, version string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the MorphoView API: uploads, slide listing and deletion, metadata,
predictions and on-demand Deep Zoom tiles.`,
		Example: `  # Start server with config.yml in the working directory
  morphoview serve

  # Start server on a custom port with another configuration
  morphoview serve --config /etc/morphoview.yml --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info("Starting MorphoView...")
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if port != "" {
				a.config.Server.Port = port
			}
			slides, err := a.lifecycle()
			if err != nil {
				return err
			}
			tiles := controllers.NewTileSettings(a.cache, wsi.Open, a.config)
			router := controllers.NewRouter(a.config, slides, tiles, version)

			addr := fmt.Sprintf(":%s", a.config.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadTimeout:       time.Duration(a.config.Server.ReadTimeout) * time.Second,
				ReadHeaderTimeout: time.Duration(a.config.Server.ReadHeaderTimeout) * time.Second,
				WriteTimeout:      time.Duration(a.config.Server.WriteTimeout) * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info(fmt.Sprintf("Listening on %s", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for an interrupt or a listener failure
			select {
			case <-cmd.Context().Done():
				log.Info("Shutdown Server ...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("Server Shutdown: ", err)
					return err
				}
				log.Info("Server exiting")
				return nil
			case err := <-serverErr:
				return fmt.Errorf("listen: %w", err)
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on, overrides server.port")

	return cmd
}
