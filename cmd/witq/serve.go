package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/wit-lite/pkg/config"
	gatewayserver "github.com/vango-go/wit-lite/pkg/gateway/server"
	"github.com/vango-go/wit-lite/pkg/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve text queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			return a.runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides WIT_GATEWAY_ADDR)")
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func (a *app) runServe(ctx context.Context, cfg config.Config) error {
	if a.deps.signalNotify == nil || a.deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	m := metrics.NewMetrics("wit")
	s, err := a.openSession(cfg, m)
	if err != nil {
		return err
	}
	defer s.Close()
	logger := s.logger

	opts := []gatewayserver.Option{gatewayserver.WithMetrics(m)}
	if s.journal != nil {
		opts = append(opts, gatewayserver.WithReadyCheck("journal", s.journal.Ping))
	}
	gw := gatewayserver.New(cfg, s.client, logger, opts...)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go gw.RunJanitor(janitorCtx)

	logger.Info("starting gateway", "addr", cfg.Addr, "backend", s.client.Backend())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	a.deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer a.deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped", "pending_queries", s.client.Pending())
	return nil
}
