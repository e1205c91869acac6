package rules

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) ListRules(ctx context.Context) ([]models.RoutingRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.RoutingRule)
	return rules, args.Error(1)
}

func quietStore(src Source) *RuleStore {
	return NewRuleStore(src, StoreConfig{Logger: log.New(&bytes.Buffer{}, "", 0)})
}

func TestGetActiveRulesFiltersAndSorts(t *testing.T) {
	src := new(MockSource)
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{
		{ID: "low-a", Priority: 10, Enabled: true},
		{ID: "off", Priority: 500, Enabled: false},
		{ID: "high", Priority: 100, Enabled: true},
		{ID: "low-b", Priority: 10, Enabled: true},
	}, nil).Once()

	s := quietStore(src)
	rules := s.GetActiveRules(context.Background())

	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"high", "low-a", "low-b"}, ids)

	// Served from cache: the source expectation above only allows one call.
	assert.Len(t, s.GetActiveRules(context.Background()), 3)
	src.AssertNumberOfCalls(t, "ListRules", 1)
}

func TestInvalidateForcesReload(t *testing.T) {
	src := new(MockSource)
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{{ID: "r1", Enabled: true}}, nil).Once()
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{{ID: "r1", Enabled: true}, {ID: "r2", Enabled: true}}, nil).Once()

	s := quietStore(src)
	assert.Len(t, s.GetActiveRules(context.Background()), 1)
	s.Invalidate()
	assert.Len(t, s.GetActiveRules(context.Background()), 2)
	src.AssertExpectations(t)
}

func TestCachedRulesExpireAfterTTL(t *testing.T) {
	src := new(MockSource)
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{{ID: "r1", Enabled: true}}, nil).Once()
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{{ID: "r1", Enabled: true}, {ID: "r2", Enabled: true}}, nil)

	s := NewRuleStore(src, StoreConfig{TTL: 20 * time.Millisecond, Logger: log.New(&bytes.Buffer{}, "", 0)})
	ctx := context.Background()
	require.Len(t, s.GetActiveRules(ctx), 1)
	assert.Len(t, s.GetActiveRules(ctx), 1, "served from cache inside the TTL")
	src.AssertNumberOfCalls(t, "ListRules", 1)

	// No Invalidate: the edit is picked up only because the entry expires.
	require.Eventually(t, func() bool {
		return len(s.GetActiveRules(ctx)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	src.AssertExpectations(t)
}

func TestLoadFailureServesLastGoodList(t *testing.T) {
	src := new(MockSource)
	src.On("ListRules", mock.Anything).Return([]models.RoutingRule{{ID: "r1", Enabled: true}}, nil).Once()
	src.On("ListRules", mock.Anything).Return(nil, errors.New("db down"))

	s := quietStore(src)
	assert.Len(t, s.GetActiveRules(context.Background()), 1)

	s.Invalidate()
	rules := s.GetActiveRules(context.Background())
	assert.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)
}

func TestLoadFailureWithoutCacheReturnsEmpty(t *testing.T) {
	src := new(MockSource)
	src.On("ListRules", mock.Anything).Return(nil, errors.New("db down"))

	s := quietStore(src)
	rules := s.GetActiveRules(context.Background())
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
}
