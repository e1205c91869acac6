package models

import "strings"

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpIn, OpNotIn, OpContains, OpRegex:
		return true
	}
	return false
}

// RoutingContext is the read-only view of an alert that rule conditions are evaluated against.
type RoutingContext struct {
	AlertID    string                 `json:"alertId"`
	UserID     string                 `json:"userId"`
	AlertType  string                 `json:"alertType"`
	Confidence float64                `json:"confidence"`
	Priority   Priority               `json:"priority"`
	Territory  *string                `json:"territory,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// TerritoryOrEmpty returns the alert territory, or "" when none was set.
func (c RoutingContext) TerritoryOrEmpty() string {
	if c.Territory == nil {
		return ""
	}
	return *c.Territory
}

// Lookup resolves a dot-separated field path such as "alertType" or "metadata.region.code".
// The second return value is false when any segment is missing.
func (c RoutingContext) Lookup(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	head, rest, nested := strings.Cut(path, ".")
	var root interface{}
	switch head {
	case "alertId":
		root = c.AlertID
	case "userId":
		root = c.UserID
	case "alertType":
		root = c.AlertType
	case "confidence":
		root = c.Confidence
	case "priority":
		root = string(c.Priority)
	case "territory":
		if c.Territory == nil {
			return nil, false
		}
		root = *c.Territory
	case "metadata":
		if c.Metadata == nil {
			return nil, false
		}
		root = c.Metadata
	default:
		return nil, false
	}
	if !nested {
		return root, true
	}
	return walk(root, rest)
}

func walk(v interface{}, path string) (interface{}, bool) {
	for _, seg := range strings.Split(path, ".") {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if v == nil {
		return nil, false
	}
	return v, true
}
