package pipeline

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/fwdproxy/internal/metrics"
	"github.com/die-net/fwdproxy/internal/request"
	"github.com/die-net/fwdproxy/internal/resolver"
	"github.com/die-net/fwdproxy/internal/transport"
)

const DefaultHeaderTimeout = 10 * time.Second

type Config struct {
	// Connector resolves and dials upstreams. Its Config applies to the
	// upstream side.
	Connector *transport.Connector

	// Transport applies to the client side.
	Transport transport.Config

	// HeaderTimeout bounds reading the request header block. Zero means
	// DefaultHeaderTimeout; negative disables it.
	HeaderTimeout time.Duration

	MaxHeaderBytes int

	// HalfClose shuts down the write side of the upstream connection once
	// the request has been forwarded.
	HalfClose bool

	Logger  *zap.Logger
	Metrics *metrics.Pipeline

	// OnTransition, if set, is called synchronously on every state change.
	OnTransition func(id string, from, to State)
}

// Result describes a finished run.
type Result struct {
	ID string

	// Failed is set when the run went through the Failed state; Err then
	// holds one of the pipeline error types.
	Failed bool
	Err    error

	// RelayErr is a read or write error that cut the response relay short.
	// It does not make the run Failed.
	RelayErr error

	Request  *request.ParsedRequest
	Upstream net.Addr
	Relayed  int64
}

// Pipeline handles a single client connection. It is not reusable.
type Pipeline struct {
	id    string
	cfg   Config
	log   *zap.Logger
	state State

	client   *transport.Transport
	upstream *transport.Transport
}

// New takes ownership of conn.
func New(cfg Config, conn net.Conn) *Pipeline {
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	id := uuid.NewString()
	return &Pipeline{
		id:     id,
		cfg:    cfg,
		log:    log.With(zap.String("conn_id", id), zap.Stringer("client", conn.RemoteAddr())),
		client: transport.Wrap(conn, cfg.Transport),
	}
}

func (p *Pipeline) ID() string { return p.id }

// State returns the current state. It must only be called from the goroutine
// running the pipeline, or after Run returns.
func (p *Pipeline) State() State { return p.state }

// Run drives the connection to Done. It never returns an error; failures are
// reported in the Result and logged.
func (p *Pipeline) Run(ctx context.Context) (res Result) {
	start := time.Now()
	p.cfg.Metrics.Start()

	res.ID = p.id
	defer func() {
		p.transition(Cleanup)
		p.closeAll()
		p.transition(Done)

		outcome := "done"
		if res.Failed {
			outcome = KindOf(res.Err).String()
		}
		p.cfg.Metrics.Finish(outcome, res.Relayed, time.Since(start))
	}()

	if err := p.serve(ctx, &res); err != nil {
		res.Failed = true
		res.Err = err
		p.transition(Failed)
		p.log.Debug("connection failed", zap.Stringer("kind", KindOf(err)), zap.Error(err))
		return res
	}

	if res.RelayErr != nil {
		p.log.Debug("relay interrupted", zap.String("host", res.Request.Addr()),
			zap.Int64("relayed", res.Relayed), zap.Error(res.RelayErr))
	} else {
		p.log.Debug("connection done", zap.String("host", res.Request.Addr()),
			zap.Int64("relayed", res.Relayed), zap.Duration("elapsed", time.Since(start)))
	}
	return res
}

func (p *Pipeline) serve(ctx context.Context, res *Result) error {
	p.transition(ParsingRequest)
	req, err := p.readRequest(ctx)
	if err != nil {
		return &MalformedRequestError{Err: err}
	}
	res.Request = req

	p.transition(ResolvingHost)
	addrs, err := p.cfg.Connector.Resolver.LookupHost(ctx, req.Host)
	if err == nil && len(addrs) == 0 {
		err = resolver.ErrNoAddresses
	}
	if err != nil {
		return &ResolutionError{Host: req.Host, Err: err}
	}

	p.transition(ConnectingUpstream)
	p.upstream, err = p.cfg.Connector.ConnectAddrs(ctx, req.Host, addrs, req.Port)
	if err != nil {
		return &UpstreamConnectError{Host: req.Host, Port: req.Port, Err: err}
	}
	res.Upstream = p.upstream.RemoteAddr()
	p.log.Debug("connected upstream", zap.String("host", req.Addr()), zap.Stringer("upstream", res.Upstream))

	p.transition(ForwardingRequest)
	if err := p.upstream.Send(ctx, req.Raw); err != nil {
		return &ForwardError{Err: err}
	}
	if p.cfg.HalfClose {
		if err := p.upstream.CloseWrite(); err != nil {
			p.log.Debug("half-close failed", zap.Error(err))
		}
	}

	p.transition(RelayingResponse)
	res.Relayed, res.RelayErr = relay(ctx, p.client, p.upstream)
	return nil
}

func (p *Pipeline) readRequest(ctx context.Context) (*request.ParsedRequest, error) {
	if p.cfg.HeaderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.cfg.HeaderTimeout, errHeaderTimeout)
		defer cancel()
	}

	req, err := request.Read(p.client.Receive(ctx), p.cfg.MaxHeaderBytes)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && context.Cause(ctx) == errHeaderTimeout {
		return nil, errHeaderTimeout
	}
	return req, err
}

var errHeaderTimeout = errors.New("timed out waiting for request header")

func (p *Pipeline) transition(to State) {
	from := p.state
	p.state = to
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(p.id, from, to)
	}
}

func (p *Pipeline) closeAll() {
	if err := p.client.Close(); err != nil {
		p.log.Debug("close client", zap.Error(err))
	}
	if p.upstream != nil {
		if err := p.upstream.Close(); err != nil {
			p.log.Debug("close upstream", zap.Error(err))
		}
	}
}
