package rules

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

const (
	DefaultCacheTTL = 300 * time.Second
	activeRulesKey  = "active"
)

// Source is the source of truth rules are reloaded from.
type Source interface {
	ListRules(ctx context.Context) ([]models.RoutingRule, error)
}

type StoreConfig struct {
	TTL    time.Duration
	Logger *log.Logger
}

// RuleStore caches the active rule list. A failed reload serves the last good list
// (or nothing) so routing degrades to the default router instead of failing.
type RuleStore struct {
	source Source
	cache  *expirable.LRU[string, []models.RoutingRule]
	logger *log.Logger

	mu       sync.Mutex
	lastGood []models.RoutingRule
}

func NewRuleStore(source Source, cfg StoreConfig) *RuleStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[rules] ", log.LstdFlags)
	}
	return &RuleStore{
		source: source,
		cache:  expirable.NewLRU[string, []models.RoutingRule](1, nil, cfg.TTL),
		logger: cfg.Logger,
	}
}

// GetActiveRules returns enabled rules, highest priority first. Rules sharing a
// priority keep the order the source returned them in.
func (s *RuleStore) GetActiveRules(ctx context.Context) []models.RoutingRule {
	if rules, ok := s.cache.Get(activeRulesKey); ok {
		return rules
	}
	all, err := s.source.ListRules(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lastGood != nil {
			s.logger.Printf("reload rules failed, serving %d cached rules: %v", len(s.lastGood), err)
			return s.lastGood
		}
		s.logger.Printf("reload rules failed, no cached rules: %v", err)
		return []models.RoutingRule{}
	}
	active := make([]models.RoutingRule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	s.cache.Add(activeRulesKey, active)
	s.mu.Lock()
	s.lastGood = active
	s.mu.Unlock()
	return active
}

// Invalidate forces the next GetActiveRules call to reload from the source.
func (s *RuleStore) Invalidate() {
	s.cache.Purge()
}
