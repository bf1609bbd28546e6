package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
	"github.com/hed1ad/lakeguard/pkg/engine"
	"github.com/hed1ad/lakeguard/pkg/operational"
	"github.com/hed1ad/lakeguard/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, &opts)
		},
	}
}

func serve(ctx context.Context, o *config.Options) error {
	log.Infof("Starting %s:\n=====\nBuild version: %s\nBuild date: %s", filepath.Base(os.Args[0]), buildVersion, buildDate)
	dumpConfig(o)

	b, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()

	loader, err := referenceLoader(o, b)
	if err != nil {
		return err
	}

	initial, err := loadSnapshot(ctx, o, b)
	if err != nil {
		log.WithError(err).Warn("ignoring baseline snapshot")
	}
	holder := baseline.NewHolder(initial)
	refresher := baseline.NewRefresher(holder, loader.LoadReference, o.Baseline.RefreshInterval, nil, fitOptions(o)...)
	eng := engine.New(holder, refresher)
	if initial == nil {
		if _, err := eng.Refit(ctx); err != nil {
			// the service still starts; readiness stays down until a refit succeeds
			log.WithError(err).Error("initial baseline fit failed")
		}
	}

	var store server.HistoryStore
	if b.redis != nil {
		store = b.redis
	}
	var serverOpts []server.Option
	if profile, err := learnTwin(ctx, loader); err != nil {
		log.WithError(err).Warn("digital twin disabled")
	} else {
		serverOpts = append(serverOpts, server.WithTwin(profile))
	}
	api := server.New(eng, store, o.Server.APIKey, serverOpts...)
	httpServer := server.NewHTTPServer(o.Server.Address, api.Handler(), o.Server.ReadTimeout, o.Server.WriteTimeout)

	alive := func() error { return nil }
	healthServer := operational.NewHealthServer(net.JoinHostPort(o.Health.Address, o.Health.Port), alive, eng.Ready)

	errs := make(chan error, 2)
	go refresher.Run(ctx)
	go func() { errs <- healthServer.Serve() }()
	go func() {
		log.WithField("address", o.Server.Address).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errs:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), o.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("API server shutdown")
	}
	_ = healthServer.Shutdown(shutdownCtx)
	log.Debugf("exiting main run")
	return err
}
