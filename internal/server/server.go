// Package server runs the accept loop that turns each client connection
// into one pipeline job on the worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/fwdproxy/internal/listener"
	"github.com/die-net/fwdproxy/internal/metrics"
	"github.com/die-net/fwdproxy/internal/pipeline"
	"github.com/die-net/fwdproxy/internal/ratelimit"
	"github.com/die-net/fwdproxy/internal/workerpool"
)

const (
	DefaultAcceptPollInterval = 100 * time.Millisecond
	DefaultShutdownTimeout    = 30 * time.Second
)

// Pool is the part of *workerpool.Pool the server uses.
type Pool interface {
	Submit(ctx context.Context, job workerpool.Job) error
	Shutdown(ctx context.Context) error
}

type Config struct {
	// AcceptPollInterval is the pause after an accept finds nothing pending
	// or fails.
	AcceptPollInterval time.Duration

	// ShutdownTimeout bounds how long Serve waits for running pipelines
	// once its context is done.
	ShutdownTimeout time.Duration

	// RxBandwidth and TxBandwidth limit each client connection in bytes per
	// second. Zero is unlimited.
	RxBandwidth int64
	TxBandwidth int64

	Pipeline pipeline.Config

	Logger  *zap.Logger
	Metrics *metrics.Acceptor
}

type Server struct {
	ln   listener.Listener
	pool Pool
	cfg  Config
	log  *zap.Logger
}

// New returns a server that owns ln and pool.
func New(ln listener.Listener, pool Pool, cfg Config) *Server {
	if cfg.AcceptPollInterval <= 0 {
		cfg.AcceptPollInterval = DefaultAcceptPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Pipeline.Logger == nil {
		cfg.Pipeline.Logger = cfg.Logger
	}
	return &Server{ln: ln, pool: pool, cfg: cfg, log: cfg.Logger}
}

// Serve accepts connections until ctx is done, then closes the listener and
// waits for the pool to drain. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	acceptErr := s.acceptLoop(ctx)
	if acceptErr != nil {
		s.log.Error("accept loop stopped", zap.Error(acceptErr))
	}

	s.log.Info("shutting down", zap.Stringer("addr", s.ln.Addr()))
	_ = s.ln.Close()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(sctx); err != nil {
		return errors.Join(acceptErr, fmt.Errorf("drain workers: %w", err))
	}
	return acceptErr
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		c, err := s.ln.TryAccept()
		switch {
		case err == nil:
		case errors.Is(err, listener.ErrWouldBlock):
			s.cfg.Metrics.WouldBlock()
			s.pause(ctx)
			continue
		case errors.Is(err, net.ErrClosed):
			return fmt.Errorf("accept: %w", err)
		default:
			s.cfg.Metrics.Error()
			s.log.Warn("accept failed", zap.Error(err))
			s.pause(ctx)
			continue
		}

		s.cfg.Metrics.Accept()
		s.dispatch(ctx, c)
	}
	return nil
}

// dispatch hands c to the pool as one job. The worker builds the pipeline,
// so time spent queued does not count against the connection's deadline.
// c is closed if the pool refuses it.
func (s *Server) dispatch(ctx context.Context, c net.Conn) {
	err := s.pool.Submit(ctx, func(jctx context.Context) {
		rc := ratelimit.Wrap(c, s.cfg.RxBandwidth, s.cfg.TxBandwidth)
		pipeline.New(s.cfg.Pipeline, rc).Run(jctx)
	})
	if err != nil {
		s.log.Warn("connection dropped", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
		_ = c.Close()
	}
}

func (s *Server) pause(ctx context.Context) {
	t := time.NewTimer(s.cfg.AcceptPollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
