// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/webguard/pkg/auth/userregistry"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/security"
	"github.com/stacklok/webguard/pkg/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Viper keys of the serve flags. Each can also be set as WEBGUARD_<KEY>.
const (
	keyConfig   = "config"
	keyMetadata = "metadata"
	keyUsers    = "users"
	keyAddr     = "addr"
	keyApp      = "app"
	keyModule   = "module"
	keyStatic   = "static-dir"

	keyOTLPEndpoint = "otlp-endpoint"
	keyOTLPInsecure = "otlp-insecure"
	keyOTLPHeaders  = "otlp-headers"
	keyOTLPSampling = "otlp-sampling-rate"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the guarded HTTP server",
		Long: `Starts an HTTP server that runs every request through the security pipeline.
Permitted requests are served from --static-dir, or answered with the caller's identity.
Send SIGHUP to reload the configuration and metadata files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, serveOptionsFromViper())
		},
	}

	addServeFlags(cmd.Flags())
	return cmd
}

func addServeFlags(f *pflag.FlagSet) {
	f.String(keyConfig, "", "Path to the security configuration file (YAML)")
	f.String(keyMetadata, "", "Path to the module security metadata file (YAML)")
	f.String(keyUsers, "", "Path to the user registry file (YAML)")
	f.String(keyAddr, "127.0.0.1:8080", "Address to listen on")
	f.String(keyApp, "default", "Application name of the guarded module")
	f.String(keyModule, "web", "Module name of the guarded module")
	f.String(keyStatic, "", "Directory served to permitted requests")
	f.String(keyOTLPEndpoint, "", "OTLP/HTTP collector host:port for decision traces")
	f.Bool(keyOTLPInsecure, false, "Export traces over plain HTTP")
	f.StringToString(keyOTLPHeaders, nil, "Headers sent with exported traces (key=value)")
	f.Float64(keyOTLPSampling, 0.1, "Fraction of decisions traced (0 to 1)")

	v := viper.GetViper()
	v.SetEnvPrefix("WEBGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		keyConfig, keyMetadata, keyUsers, keyAddr, keyApp, keyModule, keyStatic,
		keyOTLPEndpoint, keyOTLPInsecure, keyOTLPHeaders, keyOTLPSampling,
	} {
		if err := v.BindPFlag(key, f.Lookup(key)); err != nil {
			logger.Errorw("failed to bind flag", "flag", key, "error", err)
		}
	}
}

type serveOptions struct {
	ConfigPath   string
	MetadataPath string
	UsersPath    string
	Addr         string
	App          string
	Module       string
	StaticDir    string
	Tracing      telemetry.TracingConfig
}

func serveOptionsFromViper() serveOptions {
	return serveOptions{
		ConfigPath:   viper.GetString(keyConfig),
		MetadataPath: viper.GetString(keyMetadata),
		UsersPath:    viper.GetString(keyUsers),
		Addr:         viper.GetString(keyAddr),
		App:          viper.GetString(keyApp),
		Module:       viper.GetString(keyModule),
		StaticDir:    viper.GetString(keyStatic),
		Tracing: telemetry.TracingConfig{
			Endpoint:     viper.GetString(keyOTLPEndpoint),
			Insecure:     viper.GetBool(keyOTLPInsecure),
			Headers:      viper.GetStringMapString(keyOTLPHeaders),
			SamplingRate: viper.GetFloat64(keyOTLPSampling),
		},
	}
}

func loadConfig(path string) (*config.WebAppSecurityConfig, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		cfg.ApplyEnv(&env.OSReader{})
		return cfg, nil
	}
	return config.LoadFromFile(path)
}

func serve(ctx context.Context, opts serveOptions) error {
	if opts.MetadataPath == "" {
		return errors.New("--metadata is required")
	}
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	metadata := constraints.NewRegistry()
	if err := metadata.LoadFile(opts.MetadataPath); err != nil {
		return err
	}

	tp, shutdownTracing, err := telemetry.NewTracerProvider(ctx, opts.Tracing)
	if err != nil {
		return err
	}
	telemetry.InstallTracerProvider(tp)
	if shutdownTracing != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warnw("failed to flush traces", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rtOpts := security.Options{Metadata: metadata, Registerer: reg}
	if opts.UsersPath != "" {
		users, err := userregistry.LoadFile(opts.UsersPath)
		if err != nil {
			return err
		}
		rtOpts.Users = users
	}

	rt, err := security.New(ctx, cfg, rtOpts)
	if err != nil {
		return fmt.Errorf("failed to build security runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warnw("failed to close security runtime", "error", err)
		}
	}()

	ro := routerOptions{App: opts.App, Module: opts.Module, Gatherer: reg}
	if opts.StaticDir != "" {
		ro.Target = http.FileServer(http.Dir(opts.StaticDir))
	}

	go reloadOnHangup(ctx, rt, metadata, opts)

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              opts.Addr,
		Handler:           newRouter(rt, ro),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	listener, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	logger.Infow("starting webguard", "address", listener.Addr().String(), "app", opts.App, "module", opts.Module)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// reloadOnHangup re-reads the configuration and metadata files on SIGHUP.
func reloadOnHangup(ctx context.Context, rt *security.Runtime, metadata *constraints.Registry, opts serveOptions) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		if err := metadata.LoadFile(opts.MetadataPath); err != nil {
			logger.Errorw("failed to reload metadata", "error", err)
		}
		cfg, err := loadConfig(opts.ConfigPath)
		if err != nil {
			logger.Errorw("failed to reload configuration", "error", err)
			continue
		}
		if err := rt.Reconfigure(ctx, cfg); err != nil {
			logger.Errorw("failed to apply configuration", "error", err)
			continue
		}
		logger.Infow("configuration reloaded")
	}
}
