package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/internal/mapconfig"
	"github.com/WSDOT-GIS/geoportal-identify/internal/server"
)

var (
	serveMapPath string
	servePort    int
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve identify over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := newEnvironment(cfg, serveMapPath, false)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(server.Config{
			Map:            env.file,
			Coordinator:    env.coord,
			Templates:      env.templates,
			Metrics:        env.metrics,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})
		if serveWatch {
			path := serveMapPath
			if path == "" {
				path = cfg.Map.Path
			}
			go func() {
				if err := mapconfig.Watch(ctx, path, mapconfig.DefaultDebounce, srv.SetMap); err != nil {
					zap.L().Error("map file watcher stopped", zap.Error(err))
				}
			}()
		}

		zap.L().Info("serving map", zap.Int("layers", len(env.file.Layers)), zap.Int("port", port))
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMapPath, "map", "", "Map session file (default: map.path from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default: server.port from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload the map file when it changes")

	rootCmd.AddCommand(serveCmd)
}
