// Command netsentryd is the composition root: it loads configuration,
// wires every subsystem into the orchestrator's fixed dependency graph in
// bring-up order, installs the sole signal handler, and serves the live
// event bus and Prometheus metrics. Flag parsing and the single graceful
// shutdown goroutine follow the teacher's main.go; the multi-component
// dependency graph itself is new, replacing the teacher's flat "build a
// few stores, start one HTTP server" shape with the orchestrator's
// ordered start/rollback/stop discipline.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightlane/netsentry/internal/analysis"
	"github.com/brightlane/netsentry/internal/backpressure"
	"github.com/brightlane/netsentry/internal/breaker"
	"github.com/brightlane/netsentry/internal/config"
	"github.com/brightlane/netsentry/internal/eventbus"
	"github.com/brightlane/netsentry/internal/intercept"
	"github.com/brightlane/netsentry/internal/metrics"
	"github.com/brightlane/netsentry/internal/orchestrator"
	"github.com/brightlane/netsentry/internal/pcap"
	"github.com/brightlane/netsentry/internal/resource"
	"github.com/brightlane/netsentry/internal/ringbuf"
	"github.com/brightlane/netsentry/internal/session"
	"github.com/brightlane/netsentry/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./config.yaml or /etc/netsentry/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netsentryd: config error: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	orch := orchestrator.New(logger)
	deps, err := wire(cfg, logger, orch)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		os.Exit(1)
	}

	orch.InstallSignalHandler(func() {
		logger.Info("shutdown complete")
		os.Exit(0)
	})

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
	logger.Info("netsentryd started")

	mux := http.NewServeMux()
	mux.Handle("/events", deps.bus)
	mux.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))

	controlAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	logger.Info("serving metrics and events", "addr", controlAddr)
	controlServer := &http.Server{Addr: controlAddr, Handler: mux}
	go func() {
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control-plane server failed", "error", err)
		}
	}()

	proxyAddr := fmt.Sprintf(":%d", cfg.Capture.MITMProxy.Port)
	logger.Info("serving transparent interceptor", "addr", proxyAddr)
	proxyServer := &http.Server{Addr: proxyAddr, Handler: deps.proxyHandler}
	if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("interceptor server failed", "error", err)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func exitCodeFor(err error) int {
	startErr, ok := err.(*orchestrator.StartError)
	if !ok {
		return 1
	}
	switch startErr.Kind {
	case orchestrator.KindConfiguration:
		return 2
	case orchestrator.KindNetwork:
		return 3
	case orchestrator.KindSecurity:
		return 4
	case orchestrator.KindResource:
		return 5
	case orchestrator.KindPlatform:
		return 6
	default:
		return 1
	}
}

// dependencies holds the handles main needs after Start that wire built
// but does not own directly through the orchestrator's registry.
type dependencies struct {
	registry     *prometheus.Registry
	bus          *eventbus.Broker
	proxyHandler http.Handler
}

// wire constructs every subsystem and registers it with orch in the
// dependency order the core requires: database, certificate store,
// packet-rule manager, session tracker, interceptor, raw capture, PCAP
// exporter, PCAP tailer, PCAP monitor. An access-point manager and a
// disk-usage monitor are out of scope: nothing in the expanded spec names
// a component consuming either, so they are omitted rather than stubbed.
func wire(cfg *config.Config, logger *slog.Logger, orch *orchestrator.Orchestrator) (*dependencies, error) {
	registry := prometheus.NewRegistry()
	metricsImpl := metrics.New(registry)
	bus := eventbus.New(nil)

	flowStore, err := store.New(&store.Config{
		Type:        store.DatabaseTypeSQLite,
		SQLite:      store.SQLiteConfig{Path: cfg.Database.Path},
		PoolSize:    cfg.Database.PoolSize,
		MaxOverflow: cfg.Database.MaxOverflow,
		Production:  cfg.Mode == "production",
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	orch.Register(orchestrator.Component{
		Name:  "database",
		Kind:  orchestrator.KindResource,
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { return nil },
	})

	trustDir := filepath.Join(filepath.Dir(cfg.Database.Path), "trust-anchor")
	certStore := resource.NewCertStore(trustDir)
	orch.Register(orchestrator.Component{
		Name:  "certificate-store",
		Kind:  orchestrator.KindSecurity,
		Start: certStore.Start,
		Stop:  certStore.Stop,
	})

	ruleManager := resource.NewRuleManager("NETSENTRY", "eth0", cfg.Capture.MITMProxy.Port)
	orch.Register(orchestrator.Component{
		Name: "packet-rule-manager",
		Kind: orchestrator.KindNetwork,
		Start: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return ruleManager.Start(ctx)
		},
		Stop: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return ruleManager.Stop(ctx)
		},
	})

	sessions := session.New(cfg.Capture.Session.Timeout(), flowStore)
	sweepStop := make(chan struct{})
	orch.Register(orchestrator.Component{
		Name: "session-tracker",
		Start: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						sessions.SweepExpired()
					case <-sweepStop:
						return
					}
				}
			}()
			return nil
		},
		Stop: func(ctx context.Context) error {
			close(sweepStop)
			sessions.Close()
			return nil
		},
	})

	analyzers := enabledAnalyzers(cfg.Analysis)
	analysisOrch := analysis.New(analyzers, analysis.Config{
		MaxConcurrentAnalyses: cfg.Analysis.MaxConcurrentAnalyses,
		MaxAnalysisTime:       cfg.Analysis.MaxAnalysisTime(),
		CacheEnabled:          cfg.Analysis.Cache.Enabled,
		CacheMaxSize:          cfg.Analysis.Cache.MaxSize,
		CacheTTL:              cfg.Analysis.Cache.TTL(),
	}, metricsImpl, flowStore, bus)

	asyncStore := intercept.NewAsyncStore(flowStore)
	asyncAnalyzer := intercept.NewAsyncAnalyzer(analysisOrch)
	hook := intercept.New(sessions, asyncStore, asyncAnalyzer, bus)
	sessions.OnExpire(func(id string) {
		hook.ForgetSession(id)
		bus.Broadcast(eventbus.Event{EventType: eventbus.TypeClientDisconnected, Data: map[string]any{"session_id": id}})
	})

	deps := &dependencies{registry: registry, bus: bus}

	// The handler is built when the interceptor starts, after the
	// certificate store has loaded or generated the trust anchor.
	orch.Register(orchestrator.Component{
		Name: "interceptor",
		Kind: orchestrator.KindNetwork,
		Start: func(ctx context.Context) error {
			deps.proxyHandler = hook.BuildProxyHandler(mitmCertOrNil(cfg, certStore))
			return nil
		},
		Stop: func(ctx context.Context) error { return nil },
	})

	rawCaptureOutput := filepath.Join(cfg.Capture.PCAP.OutputDir, "raw_capture.pcap")
	rawCapture := resource.NewSubprocess("tcpdump", "-i", "any", "-w", rawCaptureOutput, cfg.Capture.Tcpdump.Filter)
	orch.Register(orchestrator.Component{
		Name: "raw-capture",
		Kind: orchestrator.KindPlatform,
		Start: func(ctx context.Context) error {
			if !cfg.Capture.Tcpdump.Enabled {
				return nil
			}
			return rawCapture.Start(ctx)
		},
		Stop: func(ctx context.Context) error {
			if !cfg.Capture.Tcpdump.Enabled {
				return nil
			}
			return rawCapture.Stop(ctx)
		},
	})

	buf := ringbuf.New(int64(cfg.Capture.PCAP.BufferSizeMB) << 20)
	br := breaker.New(5)
	bp := backpressure.New(buf, func() {
		metricsImpl.RecordBackpressureRejected()
		logger.Warn("pcap ring buffer backpressure engaged")
	}, func() {
		logger.Info("pcap ring buffer backpressure released")
	})
	exporter := pcap.New(cfg.Capture.PCAP.OutputDir, buf, br, bp, logger)

	monitor := pcap.NewMonitor(
		[]string{cfg.Capture.PCAP.OutputDir},
		cfg.Analysis.PCAPPollInterval,
		pcap.NewTSharkDissector("tshark"),
		flowStore,
		analysisOrch,
		logger,
	)

	orch.Register(orchestrator.Component{
		Name: "pcap-exporter",
		Kind: orchestrator.KindResource,
		Start: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return exporter.Start(fmt.Sprintf("session_%d.pcap", time.Now().Unix()))
		},
		Stop: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return exporter.Stop(monitor)
		},
	})

	tailer := pcap.NewTailer(rawCaptureOutput, exporter, bp, 2*time.Second, logger)
	orch.Register(orchestrator.Component{
		Name: "pcap-tailer",
		Start: func(ctx context.Context) error {
			if !cfg.Capture.Tcpdump.Enabled {
				return nil
			}
			return tailer.Start(ctx)
		},
		Stop: func(ctx context.Context) error {
			if !cfg.Capture.Tcpdump.Enabled {
				return nil
			}
			return tailer.Stop(ctx)
		},
	})

	orch.Register(orchestrator.Component{
		Name: "pcap-monitor",
		Start: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return monitor.Start(ctx)
		},
		Stop: func(ctx context.Context) error {
			if !cfg.Capture.Enabled {
				return nil
			}
			return monitor.Stop(ctx)
		},
	})

	return deps, nil
}

// mitmCertOrNil returns the trust-anchor certificate for TLS interception,
// or nil when interception is disabled, in which case the proxy forwards
// CONNECT tunnels without decrypting them.
func mitmCertOrNil(cfg *config.Config, cs *resource.CertStore) *tls.Certificate {
	if !cfg.Capture.Enabled {
		return nil
	}
	cert := cs.Certificate()
	return &cert
}

func enabledAnalyzers(cfg config.AnalysisConfig) []analysis.Analyzer {
	if !cfg.Enabled {
		return nil
	}
	var out []analysis.Analyzer
	for _, a := range analysis.NewDefaultAnalyzers() {
		switch a.Name() {
		case "http_analyzer":
			if cfg.HTTPAnalyzer {
				out = append(out, a)
			}
		case "tls_analyzer":
			if cfg.TLSAnalyzer {
				out = append(out, a)
			}
		case "dns_analyzer":
			if cfg.DNSAnalyzer {
				out = append(out, a)
			}
		case "passive_scanner":
			if cfg.PassiveScanner {
				out = append(out, a)
			}
		}
	}
	return out
}
