package telemetry

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/lingo/internal/statestore"
)

//go:embed alert_rules.schema.json
var alertRulesSchemaJSON string

// Metric names a statistic from the trailing-window report.
type Metric string

const (
	MetricErrorRate    Metric = "error_rate"
	MetricP95LatencyMs Metric = "p95_latency_ms"
	MetricRPS          Metric = "requests_per_second"
	MetricCacheHitRate Metric = "cache_hit_rate"
)

// Comparator selects which side of the threshold fires a rule.
type Comparator string

const (
	ComparatorAbove Comparator = "above"
	ComparatorBelow Comparator = "below"
)

// AlertRule fires when its metric crosses the threshold. Severity is not part
// of the rule; it is derived from how far the observed value overshoots.
// WindowSeconds narrows the evaluation window below the collector's; zero
// means the collector default.
type AlertRule struct {
	Name            string     `json:"name"`
	Metric          Metric     `json:"metric"`
	Comparator      Comparator `json:"comparator"`
	Threshold       float64    `json:"threshold"`
	WindowSeconds   int        `json:"window_seconds"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	Enabled         bool       `json:"enabled"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateRulesPayload checks a JSON rules document against the embedded
// schema and returns the decoded rules.
func ValidateRulesPayload(payload json.RawMessage) ([]AlertRule, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode rules JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize rules JSON: %w", err)
	}

	// Enabled defaults to true and comparator to "above" when omitted.
	var raw []struct {
		Name            string     `json:"name"`
		Metric          Metric     `json:"metric"`
		Comparator      Comparator `json:"comparator"`
		Threshold       float64    `json:"threshold"`
		WindowSeconds   int        `json:"window_seconds"`
		CooldownSeconds int        `json:"cooldown_seconds"`
		Enabled         *bool      `json:"enabled"`
	}
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}

	rules := make([]AlertRule, len(raw))
	for i, r := range raw {
		rules[i] = AlertRule{
			Name:            r.Name,
			Metric:          r.Metric,
			Comparator:      r.Comparator,
			Threshold:       r.Threshold,
			WindowSeconds:   r.WindowSeconds,
			CooldownSeconds: r.CooldownSeconds,
			Enabled:         r.Enabled == nil || *r.Enabled,
		}
		if rules[i].Comparator == "" {
			rules[i].Comparator = ComparatorAbove
		}
	}

	if err := validateSemantics(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRules replaces the active rule set.
func (c *Collector) SetRules(rules []AlertRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
}

// LoadRulesFromFile reads, validates, activates, and persists a rules file.
func (c *Collector) LoadRulesFromFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	rules, err := ValidateRulesPayload(raw)
	if err != nil {
		return fmt.Errorf("validate rules file %s: %w", path, err)
	}

	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()

	if err := c.store.Set(ctx, map[string][]byte{statestore.KeyAlertRules: raw}); err != nil {
		return fmt.Errorf("persist alert rules: %w", err)
	}
	c.logger.Info().Int("rules", len(rules)).Str("path", path).Msg("loaded alert rules")
	return nil
}

// LoadPersistedRules restores the rule set saved by a previous run. Missing
// state is not an error.
func (c *Collector) LoadPersistedRules(ctx context.Context) error {
	values, err := c.store.Get(ctx, statestore.KeyAlertRules)
	if err != nil {
		return fmt.Errorf("load persisted rules: %w", err)
	}
	raw, ok := values[statestore.KeyAlertRules]
	if !ok {
		return nil
	}

	rules, err := ValidateRulesPayload(raw)
	if err != nil {
		return fmt.Errorf("validate persisted rules: %w", err)
	}

	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("alert_rules.schema.json", strings.NewReader(alertRulesSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("alert_rules.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateSemantics(rules []AlertRule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return fmt.Errorf("rules[%d]: name must not be empty", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("rules[%d]: duplicate rule name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
