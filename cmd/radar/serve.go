package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/coder/radar"
	"github.com/coder/serpent"
	"golang.org/x/sync/errgroup"
)

func (r *rootCmd) serveCmd() *serpent.Command {
	var (
		bindAddr string
		interval time.Duration
	)
	return &serpent.Command{
		Use:   "serve",
		Short: "Serve the run API and run discovery on a schedule",
		Handler: func(inv *serpent.Invocation) error {
			log := newLogger()
			log.Debug("starting radar")

			cfg, err := r.runConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(inv.Context(), os.Interrupt)
			defer cancel()

			runner, fetcher, err := r.runner(ctx, log, cfg)
			if err != nil {
				return err
			}

			// support Cloud Run
			if port := os.Getenv("PORT"); port != "" {
				bindAddr = ":" + port
			}

			listener, err := net.Listen("tcp", bindAddr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			log.Info("listening", "addr", listener.Addr())

			srv := &radar.Server{
				Log:         log,
				Runner:      runner,
				Config:      cfg,
				Quota:       fetcher,
				BaseContext: ctx,
			}
			srv.Init()

			httpSrv := &http.Server{
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				err := httpSrv.Serve(listener)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := httpSrv.Shutdown(shutdownCtx)
				srv.Wait()
				return err
			})
			if interval > 0 {
				eg.Go(func() error {
					return srv.Schedule(ctx, interval)
				})
			}
			return eg.Wait()
		},
		Options: []serpent.Option{
			{
				Flag:        "bind-addr",
				Description: "Address to bind to.",
				Default:     "localhost:8080",
				Value:       serpent.StringOf(&bindAddr),
			},
			{
				Flag:        "interval",
				Env:         "RADAR_INTERVAL",
				Description: "Run discovery this often. Zero only runs on request.",
				Default:     "6h",
				Value:       serpent.DurationOf(&interval),
			},
		},
	}
}
