package main

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

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/szibis/trace-forwarder/internal/config"
	"github.com/szibis/trace-forwarder/internal/exporter"
	"github.com/szibis/trace-forwarder/internal/health"
	"github.com/szibis/trace-forwarder/internal/logging"
	"github.com/szibis/trace-forwarder/internal/receiver"
	"github.com/szibis/trace-forwarder/internal/telemetry"
	"github.com/szibis/trace-forwarder/internal/traceexporter"
	"golang.org/x/sync/errgroup"
)

const serviceName = "trace-forwarder"

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(2)
	}
	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		return
	}
	if cfg.ShowVersion {
		config.PrintVersion(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal("trace-forwarder stopped with error", logging.F("error", err.Error()))
	}
	logging.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.SetLevel(logging.ParseLevel(strings.ToLower(cfg.LogLevel)))
	logging.SetResource(map[string]string{
		"service.name":    serviceName,
		"service.version": config.Version(),
	})
	for _, w := range cfg.Warnings() {
		logging.Warn("configuration warning", logging.F("field", w.Field, "message", w.Message))
	}

	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(cfg.MemoryLimitRatio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logging.Warn("failed to set memory limit", logging.F("error", err.Error()))
	} else {
		logging.Info("memory limit set", logging.F("limit_bytes", limit, "ratio", cfg.MemoryLimitRatio))
	}

	res, err := telemetry.NewResource(ctx, serviceName, config.Version())
	if err != nil {
		return err
	}
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), res)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logging.Warn("telemetry shutdown failed", logging.F("error", err.Error()))
		}
	}()
	if hook := tel.NewLogHook(); hook != nil {
		logging.SetHook(hook)
	}

	// Component loggers copy the hook, so they are derived after SetHook.
	log := logging.Default()

	var selfTracer *telemetry.SelfTracer
	var senderOpts []exporter.Option
	if cfg.SelfTracingEnabled {
		selfTracer = telemetry.NewSelfTracer(cfg.SelfTracingConfig(), res)
		senderOpts = append(senderOpts, exporter.WithRoundTripper(selfTracer.WrapTransport))
	}

	exp, err := traceexporter.New(cfg.ExporterConfig(),
		traceexporter.WithLogger(log.With("exporter")),
		traceexporter.WithSenderOptions(senderOpts...),
	)
	if err != nil {
		return err
	}
	if selfTracer != nil {
		selfTracer.Attach(exp, cfg.SelfTracingConfig())
	}

	checker := health.New(0)
	checker.RegisterReadiness("exporter", func(context.Context) error {
		if !exp.Ready() {
			return traceexporter.ErrShutdown
		}
		return nil
	})

	srv, err := newServers(cfg, exp, checker, log)
	if err != nil {
		_ = exp.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	srv.serve(g)
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down")
		checker.SetShuttingDown()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		errs = append(errs, srv.stop(sctx))
		if selfTracer != nil {
			errs = append(errs, selfTracer.Shutdown(sctx))
		}
		errs = append(errs, exp.Shutdown(sctx))
		errs = append(errs, srv.stopAdmin(sctx))
		return errors.Join(errs...)
	})

	logging.Info("trace-forwarder started", logging.F(
		"grpc_addr", cfg.GRPCListenAddr,
		"http_addr", cfg.HTTPListenAddr,
		"admin_addr", cfg.AdminAddr,
		"ingest_url", cfg.IngestURL,
		"self_tracing", cfg.SelfTracingEnabled,
		"telemetry", tel.Enabled(),
	))
	return g.Wait()
}

// servers groups the listeners opened at startup so that bind failures are
// reported before anything is served.
type servers struct {
	httpRecv *receiver.HTTPReceiver
	httpLis  net.Listener
	grpcRecv *receiver.GRPCReceiver
	grpcLis  net.Listener
	admin    *http.Server
	adminLis net.Listener
}

func newServers(cfg *config.Config, fwd receiver.Forwarder, checker *health.Checker, log *logging.Logger) (*servers, error) {
	s := &servers{}
	var err error
	if cfg.HTTPListenAddr != "" {
		if s.httpRecv, err = receiver.NewHTTP(cfg.HTTPReceiverConfig(), fwd, log.With("http_receiver")); err != nil {
			return nil, err
		}
		if s.httpLis, err = net.Listen("tcp", cfg.HTTPListenAddr); err != nil {
			return nil, s.closeWith(fmt.Errorf("listen HTTP receiver: %w", err))
		}
	}
	if cfg.GRPCListenAddr != "" {
		if s.grpcRecv, err = receiver.NewGRPC(cfg.GRPCReceiverConfig(), fwd, log.With("grpc_receiver")); err != nil {
			return nil, s.closeWith(err)
		}
		if s.grpcLis, err = net.Listen("tcp", cfg.GRPCListenAddr); err != nil {
			return nil, s.closeWith(fmt.Errorf("listen gRPC receiver: %w", err))
		}
	}
	if cfg.AdminAddr != "" {
		s.admin = &http.Server{
			Handler:           adminHandler(checker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if s.adminLis, err = net.Listen("tcp", cfg.AdminAddr); err != nil {
			return nil, s.closeWith(fmt.Errorf("listen admin: %w", err))
		}
	}
	return s, nil
}

func (s *servers) closeWith(err error) error {
	for _, lis := range []net.Listener{s.httpLis, s.grpcLis, s.adminLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	return err
}

func (s *servers) serve(g *errgroup.Group) {
	if s.httpRecv != nil {
		g.Go(func() error { return s.httpRecv.Serve(s.httpLis) })
	}
	if s.grpcRecv != nil {
		g.Go(func() error { return s.grpcRecv.Serve(s.grpcLis) })
	}
	if s.admin != nil {
		g.Go(func() error {
			logging.Info("admin endpoint started", logging.F("addr", s.adminLis.Addr().String()))
			if err := s.admin.Serve(s.adminLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
}

// stop drains the receivers so no new spans reach the exporter.
func (s *servers) stop(ctx context.Context) error {
	if s.grpcRecv != nil {
		s.grpcRecv.Stop()
	}
	if s.httpRecv != nil {
		return s.httpRecv.Stop(ctx)
	}
	return nil
}

func (s *servers) stopAdmin(ctx context.Context) error {
	if s.admin == nil {
		return nil
	}
	return s.admin.Shutdown(ctx)
}
