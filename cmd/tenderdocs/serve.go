package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/tender-docs/internal/extract"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
	"github.com/joseph-ayodele/tender-docs/internal/server"
)

const shutdownGrace = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	a, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := repository.HealthCheck(ctx, a.db, 5*time.Second, c.logger); err != nil {
		return err
	}

	cascade, err := c.cascade(ctx)
	if err != nil {
		return err
	}
	svc, queue := a.jobService(cascade)
	if err := svc.RecoverInterrupted(ctx); err != nil {
		return err
	}

	api := server.New(server.Deps{
		Extractor: extract.NewOrchestrator(cascade, c.logger, extract.WithStrictSchema(c.cfg.OCR.StrictSchema)),
		Ingestor:  a.ingestor(),
		Jobs:      svc,
		Export:    a.exporter(),
		Ready: func(ctx context.Context) error {
			return repository.HealthCheck(ctx, a.db, 2*time.Second, c.logger)
		},
	}, c.logger, server.WithMaxUploadMB(c.cfg.Server.MaxUploadMB))

	httpSrv := &http.Server{
		Addr:              c.cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.cfg.Server.ReadTimeout,
		WriteTimeout:      c.cfg.Server.WriteTimeout,
	}
	grpcSrv, health := server.NewGRPCServer(c.logger)
	lis, err := net.Listen("tcp", c.cfg.Server.GRPCAddr)
	if err != nil {
		c.logger.Error("failed to listen on address", "addr", c.cfg.Server.GRPCAddr, "error", err)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		c.logger.Info("http serving", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		c.logger.Info("grpc serving", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		c.logger.Info("shutting down")
	case serveErr = <-errCh:
		c.logger.Error("server stopped", "error", serveErr)
	}

	health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		c.logger.Warn("http shutdown incomplete", "error", err)
	}
	grpcSrv.GracefulStop()
	queue.Shutdown(sctx)
	c.logger.Info("stopped")
	return serveErr
}
