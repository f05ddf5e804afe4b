// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/stanwatch/pkg/extensions"
	"github.com/AleutianAI/stanwatch/pkg/logging"
	"github.com/AleutianAI/stanwatch/services/stanwatch/api"
	"github.com/AleutianAI/stanwatch/services/stanwatch/delay"
	"github.com/AleutianAI/stanwatch/services/stanwatch/ext"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
	"github.com/AleutianAI/stanwatch/services/stanwatch/settings"
	"github.com/AleutianAI/stanwatch/services/stanwatch/watcher"
)

const (
	defaultAddr = "127.0.0.1:12300"

	// settingsReloadDelay debounces settings file events.
	settingsReloadDelay = 250 * time.Millisecond

	shutdownTimeout = 5 * time.Second

	// tokenEnv is read when --token is not given.
	tokenEnv = "STANWATCH_TOKEN"
)

type serveOptions struct {
	addr    string
	token   string
	origins []string
	status  bool
	tracing tracingOptions
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the workspace and serve diagnostics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, so)
		},
	}
	cmd.Flags().StringVar(&so.addr, "addr", defaultAddr, "listen address of the control API")
	cmd.Flags().StringVar(&so.token, "token", "", "require this bearer token on the control API (default $"+tokenEnv+")")
	cmd.Flags().StringSliceVar(&so.origins, "allowed-origin", nil, "browser origin allowed to call the control API (repeatable)")
	cmd.Flags().BoolVar(&so.status, "status", false, "render the status item on stderr")
	cmd.Flags().BoolVar(&so.tracing.stdout, "trace", false, "print OpenTelemetry spans to stdout")
	cmd.Flags().StringVar(&so.tracing.otlpEndpoint, "otlp-endpoint", "", "export OpenTelemetry spans to this OTLP gRPC collector")
	return cmd
}

// extensions returns the auth and audit setup of the control API. Without a
// token every caller is accepted.
func (so *serveOptions) extensions() extensions.ServiceOptions {
	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(slog.Default()))
	token := so.token
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if token != "" {
		opts = opts.WithAuth(extensions.NewTokenAuthProvider(token))
	}
	return opts
}

// runServe runs the integration and its control API until the command
// context ends.
func runServe(cmd *cobra.Command, opts *globalOptions, so *serveOptions) error {
	ctx := cmd.Context()
	logger := slog.Default().With(slog.String("component", "serve"))

	if so.tracing.enabled() {
		shutdown, err := initTracer(ctx, so.tracing, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := host.NewHub()
	defer hub.Close()

	extOpts := []ext.Option{
		ext.WithLogger(slog.Default()),
		ext.WithHub(hub),
		ext.WithMetrics(ext.NewMetrics(reg)),
	}
	if so.status {
		extOpts = append(extOpts, ext.WithStatusWriter(cmd.ErrOrStderr()))
	}
	settingsPath := opts.settingsFile()
	e := ext.New(opts.root, settings.FileLoader(settingsPath), extOpts...)
	defer e.Deactivate()

	if err := e.Activate(ctx); err != nil {
		// Status errors stay visible on the status bar; a fixed settings or
		// config file reactivates through the watchers.
		logger.Warn("activation incomplete", slog.String("error", err.Error()))
	}

	reload, err := watchSettings(e, settingsPath, logger)
	if err != nil {
		logger.Warn("settings watcher not installed", slog.String("error", err.Error()))
	} else {
		defer reload.close()
	}

	if lvl, _ := logging.ParseLevel(opts.logLevel); lvl == logging.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("stanwatch"))
	api.RegisterRoutes(router, api.NewHandlers(e,
		api.WithHub(hub),
		api.WithGatherer(reg),
		api.WithExtensions(so.extensions()),
		api.WithAllowedOrigins(so.origins...),
		api.WithLogger(slog.Default())))

	ln, err := net.Listen("tcp", so.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", so.addr, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("control API listening", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// =============================================================================
// Settings reload
// =============================================================================

// settingsReloader reactivates the integration when its settings file is
// created, changed or deleted.
type settingsReloader struct {
	manager *watcher.Manager
	task    *delay.Task
}

func watchSettings(e *ext.Ext, path string, logger *slog.Logger) (*settingsReloader, error) {
	task := delay.New(
		delay.WithName("settings"),
		delay.WithLogger(logger),
		delay.WithErrorHandler(func(err error) {
			logger.Warn("reactivation after settings change failed", slog.String("error", err.Error()))
		}),
	)
	manager := watcher.NewManager(watcher.WithLogger(logger))

	target := watcher.Target{
		Root:  filepath.Dir(path),
		Match: watcher.Basenames(filepath.Base(path)),
	}
	_, err := manager.Watch(target, func(ev watcher.Event) {
		logger.Info("settings file event",
			slog.String("path", ev.Path),
			slog.String("op", ev.Op.String()))
		_ = task.Schedule(func() error {
			return e.Reactivate(context.Background())
		}, settingsReloadDelay)
	})
	if err != nil {
		task.Close()
		manager.Close()
		return nil, err
	}
	return &settingsReloader{manager: manager, task: task}, nil
}

func (r *settingsReloader) close() {
	r.manager.Close()
	r.task.Close()
}
