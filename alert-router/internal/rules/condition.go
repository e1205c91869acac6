package rules

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

const regexCacheSize = 256

// Evaluator evaluates single conditions against a routing context. Compiled patterns
// are cached by source string.
type Evaluator struct {
	regexes *lru.Cache[string, *regexp.Regexp]
	logger  *log.Logger
	ops     map[models.Operator]func(actual, expected interface{}) bool
}

func NewEvaluator(logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(os.Stdout, "[rules] ", log.LstdFlags)
	}
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	e := &Evaluator{regexes: cache, logger: logger}
	e.ops = map[models.Operator]func(actual, expected interface{}) bool{
		models.OpEquals:      valuesEqual,
		models.OpNotEquals:   func(a, b interface{}) bool { return !valuesEqual(a, b) },
		models.OpGreaterThan: func(a, b interface{}) bool { return compareNumbers(a, b, func(x, y float64) bool { return x > y }) },
		models.OpLessThan:    func(a, b interface{}) bool { return compareNumbers(a, b, func(x, y float64) bool { return x < y }) },
		models.OpIn:          memberOf,
		models.OpNotIn:       notMemberOf,
		models.OpContains:    contains,
		models.OpRegex:       e.matchRegex,
	}
	return e
}

// Evaluate reports whether cond holds for rc. A field missing from the context only
// satisfies not_equals against a concrete value. Unknown operators and bad patterns
// evaluate to false.
func (e *Evaluator) Evaluate(cond models.Condition, rc models.RoutingContext) bool {
	fn, ok := e.ops[cond.Operator]
	if !ok {
		e.logger.Printf("unknown operator %q on field %s; condition fails closed", cond.Operator, cond.Field)
		return false
	}
	actual, found := rc.Lookup(cond.Field)
	if !found {
		return cond.Operator == models.OpNotEquals && cond.Value != nil
	}
	return fn(actual, cond.Value)
}

// EvaluateAll applies AND semantics. An empty list is vacuously true.
func (e *Evaluator) EvaluateAll(conds []models.Condition, rc models.RoutingContext) bool {
	for _, c := range conds {
		if !e.Evaluate(c, rc) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchRegex(actual, expected interface{}) bool {
	pattern, ok := expected.(string)
	if !ok {
		e.logger.Printf("regex condition value %v is not a string", expected)
		return false
	}
	re, ok := e.regexes.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			e.logger.Printf("invalid regex %q: %v", pattern, err)
			return false
		}
		e.regexes.Add(pattern, re)
	}
	return re.MatchString(stringify(actual))
}

func valuesEqual(a, b interface{}) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func compareNumbers(a, b interface{}, cmp func(x, y float64) bool) bool {
	x, ok := toFloat(a)
	if !ok {
		return false
	}
	y, ok := toFloat(b)
	if !ok {
		return false
	}
	return cmp(x, y)
}

func memberOf(actual, expected interface{}) bool {
	list, ok := asList(expected)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

func notMemberOf(actual, expected interface{}) bool {
	if _, ok := asList(expected); !ok {
		return false
	}
	return !memberOf(actual, expected)
}

// contains matches substrings of string fields and elements of list fields.
func contains(actual, expected interface{}) bool {
	switch av := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(av, s)
	case []interface{}:
		for _, item := range av {
			if valuesEqual(item, expected) {
				return true
			}
		}
	case []string:
		s, ok := expected.(string)
		if !ok {
			return false
		}
		for _, item := range av {
			if item == s {
				return true
			}
		}
	}
	return false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch lv := v.(type) {
	case []interface{}:
		return lv, true
	case []string:
		out := make([]interface{}, len(lv))
		for i, s := range lv {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch sv := v.(type) {
	case string:
		return sv
	case float64:
		return strconv.FormatFloat(sv, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
