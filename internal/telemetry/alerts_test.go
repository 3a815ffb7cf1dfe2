package telemetry

import (
	"context"
	"testing"
	"time"
)

func recordFailures(c *Collector, at time.Time, failed, total int) {
	for i := 0; i < failed; i++ {
		c.Record(CallRecord{At: at, Duration: time.Millisecond, Success: false})
	}
	for i := 0; i < total-failed; i++ {
		c.Record(CallRecord{At: at, Duration: time.Millisecond, Success: true})
	}
}

func TestAlertFiresWithOvershootSeverity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		failed  int
		total   int
		want    Severity
	}{
		{"just over threshold", 3, 25, SeverityWarning},  // 12% vs 10%
		{"one and a half times", 3, 20, SeverityMajor},   // 15% vs 10%
		{"double the threshold", 5, 20, SeverityCritical}, // 25% vs 10%
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, clock := newTestCollector(t, DefaultOptions())
			c.SetRules([]AlertRule{{Name: "high-errors", Metric: MetricErrorRate, Comparator: ComparatorAbove, Threshold: 0.1, Enabled: true}})
			recordFailures(c, *clock, tc.failed, tc.total)

			fired := c.CheckAlerts(context.Background())
			if len(fired) != 1 {
				t.Fatalf("fired %d alerts, want 1", len(fired))
			}
			if fired[0].Severity != tc.want {
				t.Fatalf("severity = %s (value %.2f), want %s", fired[0].Severity, fired[0].Value, tc.want)
			}
		})
	}
}

func TestAlertBelowThresholdStaysSilent(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())
	c.SetRules([]AlertRule{{Name: "high-errors", Metric: MetricErrorRate, Comparator: ComparatorAbove, Threshold: 0.5, Enabled: true}})
	recordFailures(c, *clock, 1, 10)

	if fired := c.CheckAlerts(context.Background()); len(fired) != 0 {
		t.Fatalf("fired %d alerts, want 0", len(fired))
	}
}

func TestDisabledRuleStaysSilent(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())
	c.SetRules([]AlertRule{{Name: "high-errors", Metric: MetricErrorRate, Comparator: ComparatorAbove, Threshold: 0.1}})
	recordFailures(c, *clock, 10, 10)

	if fired := c.CheckAlerts(context.Background()); len(fired) != 0 {
		t.Fatalf("disabled rule fired %d alerts, want 0", len(fired))
	}
}

func TestBelowComparatorFiresOnLowValue(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())
	c.SetRules([]AlertRule{{Name: "low-cache-hits", Metric: MetricCacheHitRate, Comparator: ComparatorBelow, Threshold: 0.5, Enabled: true}})

	// All misses: cache-hit rate 0, well under the 0.5 floor.
	recordFailures(c, *clock, 0, 10)

	fired := c.CheckAlerts(context.Background())
	if len(fired) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(fired))
	}
	if fired[0].Severity != SeverityCritical {
		t.Fatalf("severity = %s, want %s", fired[0].Severity, SeverityCritical)
	}
}

func TestAlertCooldownSuppressesRefire(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t, DefaultOptions())
	c.SetRules([]AlertRule{{Name: "high-errors", Metric: MetricErrorRate, Comparator: ComparatorAbove, Threshold: 0.1, CooldownSeconds: 60, Enabled: true}})
	ctx := context.Background()

	recordFailures(c, *clock, 10, 10)
	if fired := c.CheckAlerts(ctx); len(fired) != 1 {
		t.Fatalf("first check fired %d alerts, want 1", len(fired))
	}

	// Condition persists, but the rule is cooling down.
	*clock = clock.Add(30 * time.Second)
	recordFailures(c, *clock, 10, 10)
	if fired := c.CheckAlerts(ctx); len(fired) != 0 {
		t.Fatalf("cooldown check fired %d alerts, want 0", len(fired))
	}

	// Past the cooldown it fires again.
	*clock = clock.Add(31 * time.Second)
	recordFailures(c, *clock, 10, 10)
	if fired := c.CheckAlerts(ctx); len(fired) != 1 {
		t.Fatalf("post-cooldown check fired %d alerts, want 1", len(fired))
	}

	if history := c.AlertHistory(); len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}

func TestValidateRulesPayload(t *testing.T) {
	t.Parallel()

	good := []byte(`[{"name":"high-errors","metric":"error_rate","threshold":0.2,"cooldown_seconds":120}]`)
	rules, err := ValidateRulesPayload(good)
	if err != nil {
		t.Fatalf("validate good payload: %v", err)
	}
	if len(rules) != 1 || rules[0].Metric != MetricErrorRate || rules[0].CooldownSeconds != 120 {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if rules[0].Comparator != ComparatorAbove || !rules[0].Enabled {
		t.Fatalf("defaults not applied: %+v", rules[0])
	}

	explicit := []byte(`[{"name":"slow","metric":"p95_latency_ms","comparator":"below","threshold":100,"window_seconds":60,"enabled":false}]`)
	rules, err = ValidateRulesPayload(explicit)
	if err != nil {
		t.Fatalf("validate explicit payload: %v", err)
	}
	if rules[0].Comparator != ComparatorBelow || rules[0].Enabled || rules[0].WindowSeconds != 60 {
		t.Fatalf("explicit fields not decoded: %+v", rules[0])
	}

	bad := [][]byte{
		[]byte(`[{"name":"x","metric":"unknown_metric","threshold":1}]`),
		[]byte(`[{"name":"x","threshold":1}]`),
		[]byte(`[{"name":"","metric":"error_rate","threshold":1}]`),
		[]byte(`[{"name":"x","metric":"error_rate","comparator":"near","threshold":1}]`),
		[]byte(`[{"name":"dup","metric":"error_rate","threshold":1},{"name":"dup","metric":"error_rate","threshold":2}]`),
		[]byte(`[] trailing`),
		[]byte(``),
	}
	for i, payload := range bad {
		if _, err := ValidateRulesPayload(payload); err == nil {
			t.Fatalf("payload %d: expected validation error", i)
		}
	}
}
