package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"horse.fit/lingo/internal/statestore"
)

// Severity grades an alert by how far the observed value overshot the rule
// threshold.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

const (
	defaultCooldown = 5 * time.Minute
	alertHistoryCap = 50
)

// Alert is one fired rule.
type Alert struct {
	Rule      string    `json:"rule"`
	Metric    Metric    `json:"metric"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// CheckAlerts evaluates every rule against the current window report. A rule
// inside its cooldown stays silent even while the condition persists.
func (c *Collector) CheckAlerts(ctx context.Context) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	var fired []Alert
	for _, rule := range c.rules {
		if !rule.Enabled {
			continue
		}
		window := c.opts.Window
		if rule.WindowSeconds > 0 {
			window = time.Duration(rule.WindowSeconds) * time.Second
		}
		value, ok := metricValue(c.buildReportWindow(now, window), rule.Metric)
		if !ok || !crossed(rule, value) {
			continue
		}

		cooldown := defaultCooldown
		if rule.CooldownSeconds > 0 {
			cooldown = time.Duration(rule.CooldownSeconds) * time.Second
		}
		if last, seen := c.lastFired[rule.Name]; seen && now.Sub(last) < cooldown {
			continue
		}

		alert := Alert{
			Rule:      rule.Name,
			Metric:    rule.Metric,
			Severity:  severityFor(rule, value),
			Value:     value,
			Threshold: rule.Threshold,
			At:        now,
		}
		c.lastFired[rule.Name] = now
		c.alertsTotal.WithLabelValues(string(alert.Severity)).Inc()
		fired = append(fired, alert)
	}

	if len(fired) > 0 {
		c.alerts = append(c.alerts, fired...)
		if len(c.alerts) > alertHistoryCap {
			c.alerts = c.alerts[len(c.alerts)-alertHistoryCap:]
		}
		if raw, err := json.Marshal(c.alerts); err == nil {
			if err := c.store.Set(ctx, map[string][]byte{statestore.KeyAlertHistory: raw}); err != nil {
				c.logger.Warn().Err(err).Msg("persist alert history")
			}
		}
	}
	return fired
}

// AlertHistory returns a copy of the bounded fired-alert history.
func (c *Collector) AlertHistory() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func metricValue(report Report, metric Metric) (float64, bool) {
	switch metric {
	case MetricErrorRate:
		return report.ErrorRate, true
	case MetricP95LatencyMs:
		return report.P95LatencyMs, true
	case MetricRPS:
		return report.RequestsPerSecond, true
	case MetricCacheHitRate:
		return report.CacheHitRate, true
	default:
		return 0, false
	}
}

func crossed(rule AlertRule, value float64) bool {
	if rule.Comparator == ComparatorBelow {
		return value < rule.Threshold
	}
	return value > rule.Threshold
}

// severityFor grades by the overshoot ratio: above-rules by value/threshold,
// below-rules by threshold/value.
func severityFor(rule AlertRule, value float64) Severity {
	var ratio float64
	if rule.Comparator == ComparatorBelow {
		if value <= 0 {
			return SeverityCritical
		}
		ratio = rule.Threshold / value
	} else {
		if rule.Threshold <= 0 {
			return SeverityCritical
		}
		ratio = value / rule.Threshold
	}
	switch {
	case ratio >= 2:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityMajor
	default:
		return SeverityWarning
	}
}
