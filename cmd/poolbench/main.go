// poolbench drives a connection pool against a live endpoint and reports
// how it behaved.
//
// It builds a pool from a TOML configuration, waits for the initial
// connects to settle, then runs acquire/release cycles from several
// workers and prints the final pool statistics as JSON.
//
// Usage:
//
//	poolbench [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "poolbench.toml")
//	-endpoint string
//	    Endpoint as host:port (overrides config)
//	-size int
//	    Pool size (overrides config)
//	-transport string
//	    tcp or i2p (overrides config)
//	-workers int
//	    Concurrent workers (default 4)
//	-cycles int
//	    Acquire/release cycles per worker (default 100)
//	-timeout duration
//	    Acquire timeout per cycle (default 1s)
//	-hold duration
//	    How long a worker keeps each connection
//	-warmup duration
//	    Longest wait for the initial connects (default 10s)
//	-metrics string
//	    Serve /metrics on this address and keep running until interrupted
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-i2p/asyncpool/lib/config"
	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/metrics"
	"github.com/go-i2p/asyncpool/lib/pool"
	"github.com/go-i2p/asyncpool/lib/resilience"
	"github.com/go-i2p/asyncpool/lib/transport"
	"github.com/go-i2p/asyncpool/version"
)

func main() {
	os.Exit(run())
}

// options holds the command-line flags.
type options struct {
	configPath  string
	endpoint    string
	size        int
	kind        string
	workers     int
	cycles      int
	timeout     time.Duration
	hold        time.Duration
	warmup      time.Duration
	metricsAddr string
	verbose     bool
	showVersion bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "poolbench.toml", "Path to configuration file")
	fs.StringVar(&o.endpoint, "endpoint", "", "Endpoint as host:port (overrides config)")
	fs.IntVar(&o.size, "size", 0, "Pool size (overrides config)")
	fs.StringVar(&o.kind, "transport", "", "tcp or i2p (overrides config)")
	fs.IntVar(&o.workers, "workers", 4, "Concurrent workers")
	fs.IntVar(&o.cycles, "cycles", 100, "Acquire/release cycles per worker")
	fs.DurationVar(&o.timeout, "timeout", time.Second, "Acquire timeout per cycle")
	fs.DurationVar(&o.hold, "hold", 0, "How long a worker keeps each connection")
	fs.DurationVar(&o.warmup, "warmup", 10*time.Second, "Longest wait for the initial connects")
	fs.StringVar(&o.metricsAddr, "metrics", "", "Serve /metrics on this address and keep running until interrupted")
	fs.BoolVar(&o.verbose, "v", false, "Enable verbose logging")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.workers < 1 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "-workers must be at least 1")
	}
	if o.cycles < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "-cycles must not be negative")
	}
	return o, nil
}

// apply copies flag overrides into cfg.
func (o *options) apply(cfg *config.Config) {
	if o.endpoint != "" {
		cfg.Pool.Endpoint = o.endpoint
	}
	if o.size > 0 {
		cfg.Pool.Size = o.size
	}
	if o.kind != "" {
		cfg.Transport.Kind = o.kind
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metricsAddr
	}
}

// loadConfig reads the config file, layers the flag overrides on top and
// validates the result.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() int {
	fs := flag.NewFlagSet("poolbench", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "poolbench - exercise an async connection pool\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  poolbench [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	opts, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "poolbench: %v\n", err)
		return 2
	}

	if opts.showVersion {
		fmt.Printf("poolbench version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	b, err := newBench(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build pool", "error", err)
		return 1
	}
	defer b.close()

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error stopping metrics server", "error", err)
			}
		}()
	}

	logger.Info("pool created",
		"endpoint", b.pool.Endpoint().String(),
		"size", cfg.Pool.Size,
		"transport", cfg.Transport.Kind,
		"version", version.Full())

	settled := waitSettled(ctx, b.pool, opts.warmup)
	st := b.pool.Stats()
	logger.Info("warmup finished", "settled", settled, "ready", st.Ready, "failed", st.Failed, "pending", st.Pending)

	res := runCycles(ctx, b.pool, logger, opts.workers, opts.cycles, opts.timeout, opts.hold)

	rep := report{
		Build:    version.Get(),
		Endpoint: b.pool.Endpoint().String(),
		Workers:  opts.workers,
		Cycles:   opts.cycles,
		Elapsed:  res.elapsed.String(),
		Acquired: res.acquired,
		Missed:   res.missed,
		Stats:    b.pool.Stats(),
	}
	if res.lastErr != nil {
		rep.LastError = apperrors.FromSentinel(res.lastErr)
		logger.Warn("some acquires failed",
			"missed", res.missed,
			"code", rep.LastError.Code,
			"error", rep.LastError.SafeMessage())
	}
	if b.circuit != nil {
		cs := b.circuit.Stats()
		rep.Circuit = &circuitReport{State: cs.State.String(), Failures: cs.FailureCount, Rejected: cs.Rejected}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("failed to write report", "error", err)
		return 1
	}

	if srv != nil && ctx.Err() == nil {
		logger.Info("serving metrics until interrupted", "listen", cfg.Metrics.Listen)
		<-ctx.Done()
	}
	if ctx.Err() != nil {
		logger.Info("received signal, shutting down")
	}
	return 0
}

// bench bundles the pool with the transport resources it owns.
type bench struct {
	pool    *pool.Pool
	circuit *resilience.CircuitBreaker
	closers []func() error
	logger  *slog.Logger
}

func newBench(cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) (*bench, error) {
	ep, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	b := &bench{logger: logger}

	var connector transport.Connector
	switch cfg.Transport.Kind {
	case config.TransportI2P:
		garlic := transport.NewGarlicConnector(
			cfg.Transport.SessionName,
			cfg.Transport.SAMAddress,
			cfg.SAMOptions(),
			cfg.Transport.DialTimeout.Std(),
		)
		if err := garlic.Open(); err != nil {
			return nil, err
		}
		b.closers = append(b.closers, garlic.Close)
		connector = garlic
	default:
		connector = transport.NewTCPConnector(cfg.Transport.DialTimeout.Std())
	}

	if cfg.Circuit.Enabled {
		b.circuit = resilience.NewCircuitBreaker("connect", cfg.CircuitBreakerConfig())
		resilience.Instrument(b.circuit, reg, cfg.Metrics.Prefix)
		connector = transport.NewGuardedConnector(connector, b.circuit)
	}

	pc := cfg.PoolConfig()
	pc.Observer = pool.NewMetricsObserver(reg, cfg.Metrics.Prefix)

	p, err := pool.New(ep, connector, pc)
	if err != nil {
		b.close()
		return nil, err
	}
	b.pool = p
	return b, nil
}

// close shuts the pool down before releasing the transport under it.
func (b *bench) close() {
	if b.pool != nil {
		b.pool.Shutdown()
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warn("error closing transport", "error", err)
		}
	}
	b.closers = nil
}

func serveMetrics(addr string, reg *metrics.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// waitSettled polls until no connect is pending, ctx ends or limit passes.
func waitSettled(ctx context.Context, p *pool.Pool, limit time.Duration) bool {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.Stats().Pending == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

type cycleResult struct {
	acquired uint64
	missed   uint64
	elapsed  time.Duration
	lastErr  error
}

// runCycles has each worker acquire, hold and release a connection cycles
// times. It stops early when ctx ends or the pool shuts down.
func runCycles(ctx context.Context, p *pool.Pool, logger *slog.Logger, workers, cycles int, timeout, hold time.Duration) cycleResult {
	var (
		wg       sync.WaitGroup
		acquired uint64
		missed   uint64
		mu       sync.Mutex
		lastErr  error
	)
	start := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < cycles && ctx.Err() == nil; i++ {
				acquireCtx, cancel := context.WithTimeout(ctx, timeout)
				conn, err := p.AcquireContext(acquireCtx)
				cancel()
				if err != nil {
					atomic.AddUint64(&missed, 1)
					mu.Lock()
					lastErr = err
					mu.Unlock()
					if apperrors.IsClosed(err) {
						return
					}
					continue
				}
				atomic.AddUint64(&acquired, 1)

				if hold > 0 {
					select {
					case <-time.After(hold):
					case <-ctx.Done():
					}
				}
				if err := p.Release(conn); err != nil {
					logger.Warn("release failed",
						"error", err,
						"violation", apperrors.IsProtocolViolation(err))
				}
			}
		}()
	}
	wg.Wait()

	return cycleResult{
		acquired: atomic.LoadUint64(&acquired),
		missed:   atomic.LoadUint64(&missed),
		elapsed:  time.Since(start),
		lastErr:  lastErr,
	}
}

type circuitReport struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Rejected uint64 `json:"rejected"`
}

type report struct {
	Build     version.Info     `json:"build"`
	Endpoint  string           `json:"endpoint"`
	Workers   int              `json:"workers"`
	Cycles    int              `json:"cycles"`
	Elapsed   string           `json:"elapsed"`
	Acquired  uint64           `json:"acquired"`
	Missed    uint64           `json:"missed"`
	Stats     pool.Stats       `json:"stats"`
	Circuit   *circuitReport   `json:"circuit,omitempty"`
	LastError *apperrors.Error `json:"last_error,omitempty"`
}
