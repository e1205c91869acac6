package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
)

type ruleFile struct {
	Rules []fileRule `yaml:"rules" toml:"rules"`
}

// fileRule mirrors RoutingRule but defaults enabled to true when omitted.
type fileRule struct {
	ID         string             `yaml:"id" toml:"id"`
	Name       string             `yaml:"name" toml:"name"`
	Priority   int                `yaml:"priority" toml:"priority"`
	Enabled    *bool              `yaml:"enabled" toml:"enabled"`
	Conditions []models.Condition `yaml:"conditions" toml:"conditions"`
	Actions    []models.Action    `yaml:"actions" toml:"actions"`
}

// LoadFile reads a rule seed file. The format is chosen by extension: .yaml/.yml or .toml.
func LoadFile(path string) ([]store.RuleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f ruleFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("rules file %s: unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	out := make([]store.RuleInput, 0, len(f.Rules))
	for _, r := range f.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		out = append(out, store.RuleInput{
			ID:         r.ID,
			Name:       r.Name,
			Priority:   r.Priority,
			Enabled:    enabled,
			Conditions: r.Conditions,
			Actions:    r.Actions,
		})
	}
	return out, nil
}
