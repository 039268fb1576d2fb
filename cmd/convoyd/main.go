package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/buffer"
	"github.com/therealutkarshpriyadarshi/convoy/internal/config"
	"github.com/therealutkarshpriyadarshi/convoy/internal/convoy"
	"github.com/therealutkarshpriyadarshi/convoy/internal/health"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/rediskv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/logging"
	"github.com/therealutkarshpriyadarshi/convoy/internal/metrics"
	"github.com/therealutkarshpriyadarshi/convoy/internal/profiling"
	"github.com/therealutkarshpriyadarshi/convoy/internal/reliability"
	"github.com/therealutkarshpriyadarshi/convoy/internal/security"
	"github.com/therealutkarshpriyadarshi/convoy/internal/server"
	"github.com/therealutkarshpriyadarshi/convoy/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/convoy/internal/tracing"
)

var version = "0.1.0"

var configFile = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadOrDefault(*configFile)

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Str("config", *configFile).Msg("starting convoy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: 30 * time.Second,
		Logger:  logger,
	})

	met := metrics.NewCollector()
	met.Start()
	shutdownMgr.RegisterFunc("metrics", func(ctx context.Context) error {
		met.Stop()
		return nil
	})

	tracingCfg := tracing.Config{}
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:      cfg.Tracing.Enabled,
			Endpoint:     cfg.Tracing.Endpoint,
			SampleRate:   cfg.Tracing.SampleRate,
			EnableStdout: cfg.Tracing.EnableStdout,
		}
	}
	tracer, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("starting tracing provider: %w", err)
	}
	shutdownMgr.RegisterFunc("tracing", func(ctx context.Context) error {
		return tracer.Shutdown(ctx)
	})

	var tlsConfig *security.TLSConfig
	if cfg.Redis.TLSEnabled {
		tlsConfig = &security.TLSConfig{
			Enabled:  true,
			CertFile: cfg.Redis.TLSCert,
			KeyFile:  cfg.Redis.TLSKey,
			CAFile:   cfg.Redis.TLSCA,
		}
	}

	checker := healthChecker(cfg)

	factory := func() (kv.Store, error) {
		tls, err := security.LoadTLSConfig(tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("loading redis tls config: %w", err)
		}

		store := rediskv.New(rediskv.Config{
			Addr:        cfg.Redis.Addr,
			Database:    cfg.Redis.Database,
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			DialTimeout: cfg.Redis.DialTimeout,
			TLS:         tls,
		})

		resilient := reliability.Wrap(store, resilientOptions(cfg, met)...)
		return resilient, nil
	}

	cv := convoy.New(
		convoy.WithClientFactory(factory),
		convoy.WithPrefix(cfg.Keys.Prefix),
		convoy.WithLogTTL(cfg.Keys.LogTTL),
		convoy.WithLogger(logger),
		convoy.WithMetrics(met),
		convoy.WithTracer(tracer.Tracer()),
	)
	shutdownMgr.RegisterFunc("convoy", func(ctx context.Context) error {
		return cv.Close()
	})

	stopJamGuards, err := startQueues(ctx, cv, cfg, checker, logger)
	if err != nil {
		return fmt.Errorf("starting queues: %w", err)
	}
	shutdownMgr.RegisterFunc("jamguards", func(ctx context.Context) error {
		for _, stop := range stopJamGuards {
			stop()
		}
		return nil
	})

	var prof *profiling.Profiler
	if cfg.Profiling != nil && cfg.Profiling.Enabled {
		prof, err = profiling.New(profiling.Config{
			Enabled:            cfg.Profiling.Enabled,
			Address:            cfg.Profiling.Address,
			BlockProfile:       cfg.Profiling.BlockProfile,
			MutexProfile:       cfg.Profiling.MutexProfile,
			GoroutineThreshold: cfg.Profiling.GoroutineThreshold,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating profiler: %w", err)
		}
		if err := prof.Start(); err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		shutdownMgr.RegisterFunc("profiling", func(ctx context.Context) error {
			return prof.Stop()
		})
	}

	srv := buildServer(cfg, met, checker, logger)
	if srv != nil {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		shutdownMgr.RegisterFunc("server", func(ctx context.Context) error {
			return srv.Stop(ctx)
		})
	}

	logger.Info().Msg("convoy is running")

	shutdownMgr.WaitForSignal(os.Interrupt)
	logger.Info().Msg("shutdown signal received, draining")
	cancel()

	return nil
}

// healthChecker builds the health.Checker queues register against;
// its timeout comes from cfg.Health when set, 5s otherwise.
func healthChecker(cfg *config.Config) *health.Checker {
	timeout := 5 * time.Second
	if cfg.Health != nil && cfg.Health.Timeout > 0 {
		timeout = cfg.Health.Timeout
	}
	return health.NewChecker(timeout)
}

// resilientOptions translates the YAML-facing reliability config into
// the reliability package's own option structs and wires a KVErrors
// counter as the error observer.
func resilientOptions(cfg *config.Config, met *metrics.Collector) []reliability.ResilientOption {
	var opts []reliability.ResilientOption

	if cfg.Reliability != nil && cfg.Reliability.Retry != nil {
		r := cfg.Reliability.Retry
		opts = append(opts, reliability.WithRetryConfig(reliability.RetryConfig{
			MaxRetries:     r.MaxRetries,
			InitialBackoff: r.InitialBackoff,
			MaxBackoff:     r.MaxBackoff,
			Multiplier:     r.Multiplier,
			Jitter:         r.Jitter,
		}))
	}

	if cfg.Reliability != nil && cfg.Reliability.CircuitBreaker != nil {
		cb := cfg.Reliability.CircuitBreaker
		opts = append(opts, reliability.WithCircuitBreakerConfig(reliability.CircuitBreakerConfig{
			MaxRequests: cb.MaxRequests,
			Interval:    cb.Interval,
			Timeout:     cb.Timeout,
		}))
	}

	opts = append(opts, reliability.WithErrorObserver(func(op string, err error) {
		met.KVErrors.WithLabelValues(op).Inc()
	}))

	return opts
}

// startQueues creates one Queue per entry in cfg.Queues (or a single
// "default" queue if none are configured), registers each with the
// health checker, and starts its jam guard. It returns the stop
// functions for every jam guard started.
func startQueues(ctx context.Context, cv *convoy.Convoy, cfg *config.Config, checker *health.Checker, logger *logging.Logger) ([]func(), error) {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]config.QueueConfig{"default": {}}
	}

	var stops []func()
	for name, qc := range queues {
		var opts []convoy.QueueOption
		if qc.ConcurrentWorkers > 0 {
			opts = append(opts, convoy.WithConcurrentWorkers(qc.ConcurrentWorkers))
		}
		if qc.JobTimeout > 0 {
			opts = append(opts, convoy.WithJobTimeout(qc.JobTimeout))
		}
		if qc.AdmissionBufferSize > 0 {
			opts = append(opts, convoy.WithAdmissionBuffer(buffer.RingBufferConfig{Size: qc.AdmissionBufferSize}))
		}

		q, err := cv.CreateQueue(name, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating queue %s: %w", name, err)
		}

		checker.Register("queue."+name, health.QueueCheck(q))

		if qc.JamGuardTimeout > 0 && qc.JamGuardInterval > 0 {
			queueName := name
			stop := q.JamGuard(ctx, qc.JamGuardTimeout, qc.JamGuardInterval, func(released []string, err error) {
				if err != nil {
					logger.WithQueue(queueName).Error().Err(err).Msg("jam guard scan failed")
					return
				}
				if len(released) > 0 {
					logger.WithQueue(queueName).Warn().Int("count", len(released)).Msg("jam guard released stuck jobs")
				}
			})
			stops = append(stops, stop)
		}
	}

	return stops, nil
}

// buildServer assembles the metrics/health HTTP server from cfg,
// returning nil if neither surface is enabled.
func buildServer(cfg *config.Config, met *metrics.Collector, checker *health.Checker, logger *logging.Logger) *server.Server {
	metricsEnabled := cfg.Metrics != nil && cfg.Metrics.Enabled
	healthEnabled := cfg.Health != nil && cfg.Health.Enabled
	if !metricsEnabled && !healthEnabled {
		return nil
	}

	srvCfg := server.Config{
		HealthChecker: checker,
		Logger:        logger,
	}

	if metricsEnabled {
		srvCfg.MetricsAddress = cfg.Metrics.Address
		srvCfg.MetricsPath = cfg.Metrics.Path
		srvCfg.MetricsRegistry = met.Registry()
	}

	if healthEnabled {
		srvCfg.HealthAddress = cfg.Health.Address
		srvCfg.LivenessPath = cfg.Health.LivenessPath
		srvCfg.ReadinessPath = cfg.Health.ReadinessPath
	}

	return server.New(srvCfg)
}
