package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers     []string
	AlertsTopic      string
	GroupID          string
	AssignmentsTopic string

	WebhookURL    string
	ArchiveBucket string
	ArchivePrefix string

	RulesFile        string
	RuleCacheTTL     time.Duration
	WorkloadCacheTTL time.Duration
	DefaultMaxAlerts int
	StaleAfterDays   int
	ReaperInterval   time.Duration
	UnassignedGrace  time.Duration
	StrictCapacity   bool
	NotifyTimeout    time.Duration
}

const (
	defaultAddr             = ":8071"
	defaultAlertsTopic      = "scored-alerts"
	defaultGroupID          = "alert-router"
	defaultAssignmentsTopic = "alert-assignments"
	defaultArchivePrefix    = "alert-router"
	defaultRuleCacheTTL     = 300 * time.Second
	defaultWorkloadCacheTTL = 60 * time.Second
	defaultMaxAlerts        = 10
	defaultStaleAfterDays   = 3
	defaultReaperInterval   = time.Hour
	defaultUnassignedGrace  = 5 * time.Minute
	defaultNotifyTimeout    = 30 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:             getEnv("ALERT_ROUTER_ADDR", defaultAddr),
		DatabaseURL:      firstNonEmpty(os.Getenv("ALERT_ROUTER_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:     parseCSV(os.Getenv("ALERT_ROUTER_KAFKA_BROKERS")),
		AlertsTopic:      getEnv("ALERT_ROUTER_ALERTS_TOPIC", defaultAlertsTopic),
		GroupID:          getEnv("ALERT_ROUTER_GROUP_ID", defaultGroupID),
		AssignmentsTopic: getEnv("ALERT_ROUTER_ASSIGNMENTS_TOPIC", defaultAssignmentsTopic),
		WebhookURL:       os.Getenv("ALERT_ROUTER_WEBHOOK_URL"),
		ArchiveBucket:    os.Getenv("ALERT_ROUTER_ARCHIVE_BUCKET"),
		ArchivePrefix:    getEnv("ALERT_ROUTER_ARCHIVE_PREFIX", defaultArchivePrefix),
		RulesFile:        os.Getenv("ALERT_ROUTER_RULES_FILE"),
		RuleCacheTTL:     getDuration("ALERT_ROUTER_RULE_CACHE_TTL", defaultRuleCacheTTL),
		WorkloadCacheTTL: getDuration("ALERT_ROUTER_WORKLOAD_CACHE_TTL", defaultWorkloadCacheTTL),
		DefaultMaxAlerts: getInt("ALERT_ROUTER_DEFAULT_MAX_ALERTS", defaultMaxAlerts),
		StaleAfterDays:   getInt("ALERT_ROUTER_STALE_AFTER_DAYS", defaultStaleAfterDays),
		ReaperInterval:   getDuration("ALERT_ROUTER_REAPER_INTERVAL", defaultReaperInterval),
		UnassignedGrace:  getDuration("ALERT_ROUTER_UNASSIGNED_GRACE", defaultUnassignedGrace),
		StrictCapacity:   getBool("ALERT_ROUTER_STRICT_CAPACITY", false),
		NotifyTimeout:    getDuration("ALERT_ROUTER_NOTIFY_TIMEOUT", defaultNotifyTimeout),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or ALERT_ROUTER_DATABASE_URL required")
	}
	if cfg.StaleAfterDays <= 0 {
		return Config{}, fmt.Errorf("ALERT_ROUTER_STALE_AFTER_DAYS must be positive, got %d", cfg.StaleAfterDays)
	}
	return cfg, nil
}

// IngestEnabled reports whether a Kafka consumer should be started.
func (c Config) IngestEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
