package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/fwdproxy/internal/dialer"
	"github.com/die-net/fwdproxy/internal/listener"
	"github.com/die-net/fwdproxy/internal/logging"
	"github.com/die-net/fwdproxy/internal/metrics"
	"github.com/die-net/fwdproxy/internal/pipeline"
	"github.com/die-net/fwdproxy/internal/request"
	"github.com/die-net/fwdproxy/internal/resolver"
	"github.com/die-net/fwdproxy/internal/server"
	"github.com/die-net/fwdproxy/internal/transport"
	"github.com/die-net/fwdproxy/internal/workerpool"
)

// listenHost is the only interface the proxy listens on.
const listenHost = "127.0.0.1"

var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

type options struct {
	port int

	workers            int
	queueSize          int
	dialTimeout        time.Duration
	headerTimeout      time.Duration
	ioTimeout          time.Duration
	acceptPollInterval time.Duration
	shutdownTimeout    time.Duration
	maxHeaderBytes     int
	keepAlive          net.KeepAliveConfig
	upstream           string
	dnsServer          string
	dnsCacheTTL        time.Duration
	static             resolver.Static
	halfClose          bool
	rxBandwidth        int64
	txBandwidth        int64
	metricsListen      string
	verbose            bool
}

// parseOptions parses args. On a usage problem it prints the problem and
// the usage text to stderr and returns an error wrapping errUsage.
func parseOptions(args []string, stderr io.Writer) (*options, error) {
	fs := pflag.NewFlagSet("fwdproxy", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: fwdproxy [flags] <port>\n\nForwards HTTP requests received on %s:<port> to the host named in their Host header.\n\nFlags:\n", listenHost)
		fs.PrintDefaults()
	}

	var (
		o            options
		tcpKeepAlive string
		resolve      []string
	)
	fs.IntVar(&o.workers, "workers", workerpool.DefaultWorkers(), "Number of connections handled concurrently")
	fs.IntVar(&o.queueSize, "queue-size", workerpool.DefaultQueueSize, "Accepted connections that may wait for a free worker")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
	fs.DurationVar(&o.headerTimeout, "header-timeout", pipeline.DefaultHeaderTimeout, "Timeout for reading a client's request header")
	fs.DurationVar(&o.ioTimeout, "io-timeout", 2*time.Minute, "Maximum lifetime of a proxied connection (0 disables)")
	fs.DurationVar(&o.acceptPollInterval, "accept-poll-interval", server.DefaultAcceptPollInterval, "Pause between accept attempts when no connection is pending")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout", server.DefaultShutdownTimeout, "Time allowed for in-flight connections to finish on shutdown")
	fs.IntVar(&o.maxHeaderBytes, "max-header-bytes", request.DefaultMaxHeaderBytes, "Maximum size of a request header block")
	fs.StringVar(&tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&o.upstream, "upstream", "direct://", "Upstream forwarding target URL: direct:// | socks5://[user:pass@]host:port")
	fs.StringVar(&o.dnsServer, "dns-server", "", "DNS server (host:port) to query directly. Empty uses the system resolver.")
	fs.DurationVar(&o.dnsCacheTTL, "dns-cache-ttl", 0, "How long to remember successful lookups (0 disables)")
	fs.StringArrayVar(&resolve, "resolve", nil, "Static host mapping host=addr[,addr], may be repeated")
	fs.BoolVar(&o.halfClose, "half-close", false, "Shut down the upstream write side after forwarding the request")
	fs.Int64Var(&o.rxBandwidth, "rx-bandwidth", 0, "Per-connection client receive limit in bytes/s (0 is unlimited)")
	fs.Int64Var(&o.txBandwidth, "tx-bandwidth", 0, "Per-connection client send limit in bytes/s (0 is unlimited)")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "Listen address exposing /metrics and /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "Enable per-connection debug logging")

	usage := func(format string, a ...any) (*options, error) {
		err := fmt.Errorf(format, a...)
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	// pflag prints its own errors and the usage text.
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	if fs.NArg() != 1 {
		return usage("expected exactly one port argument, got %d", fs.NArg())
	}
	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil || port < 1 || port > 65535 {
		return usage("invalid port %q: must be 1-65535", fs.Arg(0))
	}
	o.port = port

	o.keepAlive, err = parseTCPKeepAlive(tcpKeepAlive)
	if err != nil {
		return usage("invalid --tcp-keepalive: %w", err)
	}

	if o.workers < 1 {
		return usage("invalid --workers %d: must be > 0", o.workers)
	}
	if o.queueSize < 0 {
		return usage("invalid --queue-size %d: must be >= 0", o.queueSize)
	}

	o.static = resolver.Static{}
	for _, m := range resolve {
		if err := o.static.ParseMapping(m); err != nil {
			return usage("invalid --resolve: %w", err)
		}
	}

	return &o, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	o, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	log := logging.New(o.verbose)
	defer func() { _ = log.Sync() }()

	m := metrics.New(metrics.DefaultNamespace)

	d, err := dialer.New(dialer.Config{
		DialTimeout: o.dialTimeout,
		KeepAlive:   o.keepAlive,
		Observer:    m.Dialer,
	}, o.upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	tcfg := transport.Config{IOTimeout: o.ioTimeout}
	connector := &transport.Connector{
		Resolver: newResolver(o),
		Dialer:   d,
		Config:   tcfg,
	}

	addr := net.JoinHostPort(listenHost, strconv.Itoa(o.port))
	ln, err := listener.Listen(addr, o.keepAlive)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.metricsListen != "" {
		metricsSrv := &http.Server{Handler: debugMux(m), ReadHeaderTimeout: 10 * time.Second}
		lc := net.ListenConfig{KeepAliveConfig: o.keepAlive}
		metricsLn, err := lc.Listen(ctx, "tcp", o.metricsListen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("metrics listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = metricsSrv.Close()
		})

		g.Go(func() error {
			if err := metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics serve: %w", err)
			}
			return nil
		})
		log.Info("metrics listening", zap.String("addr", metricsLn.Addr().String()))
	}

	pool := workerpool.New(context.Background(), workerpool.Config{
		Workers:   o.workers,
		QueueSize: o.queueSize,
		Logger:    log,
		Metrics:   m.Pool,
	})

	srv := server.New(ln, pool, server.Config{
		AcceptPollInterval: o.acceptPollInterval,
		ShutdownTimeout:    o.shutdownTimeout,
		RxBandwidth:        o.rxBandwidth,
		TxBandwidth:        o.txBandwidth,
		Pipeline: pipeline.Config{
			Connector:      connector,
			Transport:      tcfg,
			HeaderTimeout:  o.headerTimeout,
			MaxHeaderBytes: o.maxHeaderBytes,
			HalfClose:      o.halfClose,
			Logger:         log,
			Metrics:        m.Pipeline,
		},
		Logger:  log,
		Metrics: m.Acceptor,
	})

	g.Go(func() error {
		if err := srv.Serve(ctx); err != nil {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	log.Info("http proxy listening",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("workers", o.workers),
		zap.String("upstream", redact(o.upstream)))

	err = g.Wait()
	log.Info("stopped")
	return err
}

// newResolver builds static mappings, then a direct DNS server or the system
// resolver, then an optional cache.
func newResolver(o *options) resolver.Resolver {
	var r resolver.Resolver = resolver.NewSystem()
	if o.dnsServer != "" {
		r = resolver.NewDNS(o.dnsServer, o.dialTimeout)
	}
	if len(o.static) > 0 {
		r = resolver.Chain{o.static, r}
	}
	if o.dnsCacheTTL > 0 {
		r = resolver.NewCached(r, o.dnsCacheTTL)
	}
	return r
}

// redact hides the password of an upstream URL.
func redact(upstream string) string {
	u, err := url.Parse(upstream)
	if err != nil {
		return upstream
	}
	return u.Redacted()
}

func debugMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
