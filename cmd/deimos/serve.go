package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/withmartian/deimos-router/pkg/server"
)

var version = "dev"

func serveCmd() *cobra.Command {
	var addrFlag string
	var reloadFlag bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat completions API over HTTP",
		Long: `Starts an OpenAI-compatible HTTP server. Requests naming deimos/<router>
	are routed; /v1/route resolves without calling a model.

	Use --reload to rebuild the routers whenever the routers file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr = addrFlag
			}
			reload := a.cfg.Server.Reload || reloadFlag

			if reload {
				rl := server.NewReloader(a.cfg.RoutersFile, a.registry,
					server.WithBuildOptions(a.buildOptions()...),
					server.WithReloadLogger(logger))
				if err := rl.Watch(); err != nil {
					return err
				}
				defer rl.Close()
			}

			srv := server.New(addr, a.client(),
				server.WithMetrics(a.metrics),
				server.WithLogger(logger),
				server.WithVersion(version))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", ":8080", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&reloadFlag, "reload", false, "watch the routers file and reload on change")

	return cmd
}
