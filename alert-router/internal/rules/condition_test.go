package rules

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

func testContext() models.RoutingContext {
	territory := "TX-AUSTIN"
	return models.RoutingContext{
		AlertID:    "alert-1",
		UserID:     "user-1",
		AlertType:  "likely_seller",
		Confidence: 0.82,
		Priority:   models.PriorityCritical,
		Territory:  &territory,
		Metadata: map[string]interface{}{
			"tags":     []interface{}{"probate", "absentee"},
			"property": map[string]interface{}{"value": 850000.0, "zip": "78704"},
		},
	}
}

func cond(field string, op models.Operator, value interface{}) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluateOperators(t *testing.T) {
	e := NewEvaluator(log.New(&bytes.Buffer{}, "", 0))
	rc := testContext()

	cases := []struct {
		name string
		c    models.Condition
		want bool
	}{
		{"equals string", cond("alertType", models.OpEquals, "likely_seller"), true},
		{"equals mismatch", cond("alertType", models.OpEquals, "likely_buyer"), false},
		{"equals int against float", cond("metadata.property.value", models.OpEquals, 850000), true},
		{"not equals", cond("priority", models.OpNotEquals, "LOW"), true},
		{"greater than", cond("confidence", models.OpGreaterThan, 0.7), true},
		{"greater than fails", cond("confidence", models.OpGreaterThan, 0.9), false},
		{"less than", cond("confidence", models.OpLessThan, 1), true},
		{"less than non numeric", cond("alertType", models.OpLessThan, 5), false},
		{"in", cond("territory", models.OpIn, []interface{}{"TX-DALLAS", "TX-AUSTIN"}), true},
		{"in non array", cond("territory", models.OpIn, "TX-AUSTIN"), false},
		{"not in", cond("priority", models.OpNotIn, []interface{}{"LOW", "MEDIUM"}), true},
		{"not in non array", cond("priority", models.OpNotIn, "LOW"), false},
		{"contains substring", cond("alertType", models.OpContains, "seller"), true},
		{"contains list element", cond("metadata.tags", models.OpContains, "probate"), true},
		{"contains missing element", cond("metadata.tags", models.OpContains, "vacant"), false},
		{"regex", cond("metadata.property.zip", models.OpRegex, `^787\d\d$`), true},
		{"regex on number", cond("confidence", models.OpRegex, `^0\.8`), true},
		{"regex no match", cond("userId", models.OpRegex, `^admin-`), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(tc.c, rc))
		})
	}
}

func TestEvaluateMissingFieldOnlySatisfiesNotEquals(t *testing.T) {
	e := NewEvaluator(log.New(&bytes.Buffer{}, "", 0))
	rc := testContext()

	assert.True(t, e.Evaluate(cond("metadata.region", models.OpNotEquals, "west"), rc))
	assert.False(t, e.Evaluate(cond("metadata.region", models.OpNotEquals, nil), rc))
	for _, op := range []models.Operator{models.OpEquals, models.OpGreaterThan, models.OpLessThan, models.OpIn, models.OpNotIn, models.OpContains, models.OpRegex} {
		assert.False(t, e.Evaluate(cond("metadata.region", op, []interface{}{"west"}), rc), "operator %s", op)
	}
}

func TestEvaluateConfigurationErrorsFailClosed(t *testing.T) {
	var buf bytes.Buffer
	e := NewEvaluator(log.New(&buf, "", 0))
	rc := testContext()

	assert.False(t, e.Evaluate(cond("alertType", models.OpRegex, "(unclosed"), rc))
	assert.Contains(t, buf.String(), "invalid regex")

	buf.Reset()
	assert.False(t, e.Evaluate(cond("alertType", models.Operator("starts_with"), "likely"), rc))
	assert.Contains(t, buf.String(), "unknown operator")
}

func TestEvaluateAll(t *testing.T) {
	e := NewEvaluator(log.New(&bytes.Buffer{}, "", 0))
	rc := testContext()

	assert.True(t, e.EvaluateAll(nil, rc), "empty condition list is vacuously true")
	assert.True(t, e.EvaluateAll([]models.Condition{
		cond("alertType", models.OpEquals, "likely_seller"),
		cond("confidence", models.OpGreaterThan, 0.5),
	}, rc))
	assert.False(t, e.EvaluateAll([]models.Condition{
		cond("alertType", models.OpEquals, "likely_seller"),
		cond("confidence", models.OpGreaterThan, 0.9),
	}, rc))
}
