// Command telemetry-core runs the aggregator, alert evaluator, retention
// engine, scrape/dashboard server, and config-reload watcher as one
// process, wired together over the in-process or Redis bus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackforestdev/njord-quant-sub000/internal/aggregator"
	"github.com/blackforestdev/njord-quant-sub000/internal/alerts"
	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/config"
	"github.com/blackforestdev/njord-quant-sub000/internal/configreload"
	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/blackforestdev/njord-quant-sub000/internal/retention"
	"github.com/blackforestdev/njord-quant-sub000/internal/scraper"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"github.com/robfig/cron/v3"
)

func main() {
	configRoot := flag.String("config-root", "", "directory the config reloader watches for base.yaml and the secrets file (overrides NJORD_CONFIG_ROOT)")
	bindHost := flag.String("bind-host", "", "scrape/dashboard bind host (overrides NJORD_SCRAPE_HOST)")
	port := flag.Int("port", 0, "scrape/dashboard bind port (overrides NJORD_SCRAPE_PORT)")
	useRedis := flag.Bool("redis", false, "use the Redis bus instead of the in-process memory bus")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *configRoot != "" {
		cfg.ConfigReload.ConfigRoot = *configRoot
	}
	if *bindHost != "" {
		cfg.Scraper.BindHost = *bindHost
	}
	if *port != 0 {
		cfg.Scraper.BindPort = *port
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var b bus.Bus
	if *useRedis {
		rb, err := bus.NewRedisBus(cfg.Redis, logger)
		if err != nil {
			log.Fatalf("connect redis bus: %v", err)
		}
		b = rb
	} else {
		b = bus.NewMemoryBus()
	}

	registry := metrics.NewRegistry(logger, cfg.Aggregator.CardinalityWarning, cfg.Aggregator.CardinalityMax)

	journal, err := aggregator.NewJournalWriter(cfg.Aggregator.JournalDir)
	if err != nil {
		log.Fatalf("open aggregator journal: %v", err)
	}

	agg := aggregator.New(b, registry, journal, aggregator.Config{
		IntervalSeconds:      cfg.Aggregator.IntervalSeconds,
		FlushIntervalSeconds: cfg.Aggregator.FlushIntervalSeconds,
		GracePeriodSeconds:   cfg.Aggregator.GracePeriodSeconds,
		RetentionHours:       cfg.Aggregator.RetentionHours,
	}, logger)
	if err := agg.Start(ctx); err != nil {
		log.Fatalf("start aggregator: %v", err)
	}

	rules, err := alerts.LoadRules(cfg.Alerts.RulesPath)
	if err != nil {
		log.Fatalf("load alert rules: %v", err)
	}
	evaluator := alerts.NewEvaluator(b, rules, logger)
	stopAlerts, err := runAlertFeed(ctx, b, evaluator, logger)
	if err != nil {
		log.Fatalf("subscribe alert feed: %v", err)
	}

	policy, err := retention.LoadPolicy(cfg.Retention.PolicyPath)
	if err != nil {
		log.Fatalf("load retention policy: %v", err)
	}
	retentionEngine := retention.NewEngine(cfg.Retention.JournalDir, policy, logger)
	if err := retention.ValidateCronSyntax(cfg.Retention.CronSchedule); err != nil {
		log.Fatalf("invalid retention cron schedule: %v", err)
	}
	retentionCron := cron.New()
	if _, err := retentionCron.AddFunc(cfg.Retention.CronSchedule, func() {
		counts, err := retentionEngine.ApplyRetention()
		if err != nil {
			logger.Error(ctx, "retention pass failed", err, nil)
			return
		}
		logger.Info(ctx, "retention pass complete", map[string]interface{}{
			"downsampled": counts.Downsampled,
			"compressed":  counts.Compressed,
			"deleted":     counts.Deleted,
			"failed":      counts.Failed,
		})
	}); err != nil {
		log.Fatalf("schedule retention cron: %v", err)
	}
	retentionCron.Start()

	watcher, err := newConfigWatcher(cfg.ConfigReload)
	if err != nil {
		log.Fatalf("start config watcher: %v", err)
	}
	reloader := configreload.NewReloader(cfg.ConfigReload.ConfigRoot, watcher, b, cfg.ConfigReload.JournalPath, logger)
	reloader.Start(ctx)

	busChecker := observability.NewPingHealthCheck("bus", b.Ping)
	registryChecker := observability.NewPingHealthCheck("registry", func(ctx context.Context) error {
		registry.CollectAll()
		return nil
	})
	srv := scraper.New(registry, b, cfg.Scraper, logger, busChecker, registryChecker)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("start scrape server: %v", err)
	}
	logger.Info(ctx, "telemetry-core scrape server listening", map[string]interface{}{
		"host": cfg.Scraper.BindHost,
		"port": cfg.Scraper.BindPort,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info(ctx, "received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(stopAlerts)
	retentionCron.Stop()
	if err := reloader.Stop(); err != nil {
		logger.Error(shutdownCtx, "stop config reloader", err, nil)
	}
	if err := agg.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "stop aggregator", err, nil)
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "stop scrape server", err, nil)
	}

	logger.Info(ctx, "telemetry-core shutdown complete", nil)
}

// runAlertFeed subscribes to the aggregator's sample topic and feeds
// every decoded sample through evaluator, independent of the scraper's
// own subscription to the same topic.
func runAlertFeed(ctx context.Context, b bus.Bus, evaluator *alerts.Evaluator, logger *observability.Logger) (chan struct{}, error) {
	sub, err := b.Subscribe(ctx, aggregator.SamplesTopic)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				var sample metrics.Sample
				if err := json.Unmarshal(msg.Payload, &sample); err != nil {
					logger.Warn(ctx, "alert feed: malformed sample payload", map[string]interface{}{"error": err.Error()})
					continue
				}
				evaluator.EvaluateSample(ctx, sample)
			}
		}
	}()
	return stop, nil
}

// newConfigWatcher builds a kernel-notify watcher when the platform
// supports it and the operator hasn't disabled it, falling back to
// polling otherwise.
func newConfigWatcher(cfg config.ConfigReloadConfig) (configreload.FileWatcher, error) {
	if cfg.UseKernelNotify {
		w, err := configreload.NewFsnotifyWatcher(cfg.ConfigRoot, []string{cfg.BaseFileName, cfg.SecretsFileName})
		if err == nil {
			return w, nil
		}
		log.Printf("fsnotify unavailable (%v), falling back to polling", err)
	}
	return configreload.NewPollingWatcher(time.Duration(cfg.PollIntervalSec) * time.Second), nil
}
