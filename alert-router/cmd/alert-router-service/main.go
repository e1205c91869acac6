package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/assign"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/config"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/httpserver"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/ingest"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/notify"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/routing"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/rules"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/workload"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[startup] no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewPGStore(db)
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	baseTracker, err := workload.NewCachedTracker(st, workload.Config{
		TTL:              cfg.WorkloadCacheTTL,
		DefaultMaxAlerts: cfg.DefaultMaxAlerts,
	})
	if err != nil {
		log.Fatalf("workload tracker init: %v", err)
	}
	defer baseTracker.Close()
	var tracker workload.Tracker = baseTracker
	if cfg.StrictCapacity {
		log.Printf("[startup] strict capacity enforcement enabled")
		tracker = workload.NewStrictTracker(baseTracker, store.NewPGReserver(db))
	}

	ruleStore := rules.NewRuleStore(st, rules.StoreConfig{TTL: cfg.RuleCacheTTL})
	if cfg.RulesFile != "" {
		seedRules(ctx, rules.NewAdmin(st, ruleStore, nil), cfg.RulesFile)
	}

	notifier, kafkaNotifier := buildNotifiers(ctx, cfg)
	if kafkaNotifier != nil {
		defer kafkaNotifier.Close()
	}

	executor := assign.NewExecutor(tracker, assign.Config{Notifier: notifier})
	fallback := assign.NewDefaultRouter(tracker, assign.Config{})
	engine := rules.NewEngine(ruleStore, rules.NewEvaluator(nil), executor, fallback, rules.EngineConfig{})
	orch := routing.NewOrchestrator(st, engine, executor, tracker, routing.Config{
		Notifier:      notifier,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	var workers sync.WaitGroup
	reaper := routing.NewReaper(orch, routing.ReaperConfig{
		Interval:        cfg.ReaperInterval,
		MaxAgeDays:      cfg.StaleAfterDays,
		UnassignedGrace: cfg.UnassignedGrace,
	})
	workers.Add(1)
	go func() {
		defer workers.Done()
		reaper.Run(ctx)
	}()

	if cfg.IngestEnabled() {
		reader, err := ingest.NewKafkaReader(ingest.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.AlertsTopic,
			GroupID: cfg.GroupID,
		})
		if err != nil {
			log.Fatalf("kafka reader init: %v", err)
		}
		defer reader.Close()
		consumer := ingest.NewConsumer(reader, st, orch, ingest.Config{})
		workers.Add(1)
		go func() {
			defer workers.Done()
			log.Printf("consuming %s as %s", cfg.AlertsTopic, cfg.GroupID)
			consumer.Run(ctx)
		}()
	} else {
		log.Printf("[startup] ALERT_ROUTER_KAFKA_BROKERS not set; ingest disabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpserver.New(st).Router(),
	}
	go func() {
		log.Printf("alert router listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
	workers.Wait()
	orch.Wait()
}

func seedRules(ctx context.Context, admin *rules.Admin, path string) {
	inputs, err := rules.LoadFile(path)
	if err != nil {
		log.Fatalf("load rules file: %v", err)
	}
	n, err := admin.Seed(ctx, inputs)
	if err != nil {
		log.Fatalf("seed rules: %v", err)
	}
	log.Printf("[startup] seeded %d routing rules from %s", n, path)
}

func buildNotifiers(ctx context.Context, cfg config.Config) (*notify.Multi, *notify.KafkaNotifier) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(nil)}

	var kafkaNotifier *notify.KafkaNotifier
	if len(cfg.KafkaBrokers) > 0 && cfg.AssignmentsTopic != "" {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.AssignmentsTopic,
		})
		if err != nil {
			log.Fatalf("kafka notifier init: %v", err)
		}
		kafkaNotifier = kn
		notifiers = append(notifiers, kn)
	}
	if cfg.WebhookURL != "" {
		wn, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: 5 * time.Second,
			Retries: 2,
		})
		if err != nil {
			log.Fatalf("webhook notifier init: %v", err)
		}
		notifiers = append(notifiers, wn)
	}
	if cfg.ArchiveBucket != "" {
		archiver, err := notify.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("s3 archiver init: %v", err)
		}
		notifiers = append(notifiers, archiver)
	}
	return notify.NewMulti(notifiers...), kafkaNotifier
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
