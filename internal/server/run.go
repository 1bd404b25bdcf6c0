package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/config"
	"github.com/isparth/Distributed-Systems/raftkv/internal/distributedkv"
	"github.com/isparth/Distributed-Systems/raftkv/internal/httpapi"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transportws"
)

const shutdownTimeout = 5 * time.Second

// NewLogger builds the process logger: JSON in production, console output
// with -dev.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	return zc.Build()
}

// Run wires together the server components and serves until ctx is done,
// the process is signalled, or a listener fails.
func Run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting node",
		zap.Stringer("self", cfg.Self),
		zap.Int("cluster_size", len(cfg.Peers)+1),
	)

	tp := transportws.New(transportws.Config{Logger: logger})
	node, err := raft.NewNode(raft.Config{
		Self:   cfg.Self,
		Peers:  cfg.Peers,
		Timing: cfg.Timing,
		Logger: logger,
	}, tp)
	if err != nil {
		return err
	}

	dkv := distributedkv.New(node, distributedkv.Config{})
	api := httpapi.New(dkv, httpapi.Config{
		Name:    cfg.Self.Name,
		APIPort: cfg.Self.APIPort,
		Logger:  logger,
	})

	raftRouter := chi.NewRouter()
	raftRouter.Use(middleware.Recoverer)
	raftRouter.Handle(transportws.Path, tp)

	servers := map[string]*http.Server{
		"api": {
			Addr:              net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Self.APIPort)),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		"raft": {
			Addr:              net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Self.RaftPort)),
			Handler:           raftRouter,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(servers))
	for name, srv := range servers {
		go func() {
			logger.Info("listening", zap.String("listener", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s listener: %w", name, err)
			}
		}()
	}

	nodeDone := make(chan struct{})
	go func() {
		defer close(nodeDone)
		_ = node.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		logger.Error("listener failed", zap.Error(runErr))
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	cancel()
	<-nodeDone

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	for name, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.String("listener", name), zap.Error(err))
		}
	}
	tp.Close()
	return runErr
}
