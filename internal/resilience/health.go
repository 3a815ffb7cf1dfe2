package resilience

import (
	"context"
	"encoding/json"
	"time"

	"horse.fit/lingo/internal/statestore"
)

// Grade buckets a service's recent error rate.
type Grade string

const (
	GradeHealthy   Grade = "healthy"
	GradeDegraded  Grade = "degraded"
	GradeUnhealthy Grade = "unhealthy"
	GradeCritical  Grade = "critical"
)

// worse orders grades so the overall grade can take the maximum.
func (g Grade) worse(other Grade) Grade {
	rank := map[Grade]int{GradeHealthy: 0, GradeDegraded: 1, GradeUnhealthy: 2, GradeCritical: 3}
	if rank[other] > rank[g] {
		return other
	}
	return g
}

// ServiceHealth is one service's view in a health report.
type ServiceHealth struct {
	Service             string  `json:"service"`
	Grade               Grade   `json:"grade"`
	ErrorRate           float64 `json:"error_rate"`
	Samples             int     `json:"samples"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Circuit             State   `json:"circuit"`
}

// HealthReport is the full snapshot returned by EvaluateHealth.
type HealthReport struct {
	At       time.Time                `json:"at"`
	Overall  Grade                    `json:"overall"`
	Services map[string]ServiceHealth `json:"services"`
}

// EvaluateHealth grades every tracked service by its error rate over the
// trailing window and persists the snapshot. Services with no recent traffic
// count as healthy.
func (c *Controller) EvaluateHealth(ctx context.Context) HealthReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	report := HealthReport{
		At:       now,
		Overall:  GradeHealthy,
		Services: make(map[string]ServiceHealth),
	}

	for service, events := range c.outcomes {
		cutoff := now.Add(-c.opts.HealthWindow)
		total, failed := 0, 0
		for _, event := range events {
			if !event.At.After(cutoff) {
				continue
			}
			total++
			if event.Failed {
				failed++
			}
		}

		rate := 0.0
		if total > 0 {
			rate = float64(failed) / float64(total)
		}

		breaker := c.breaker(service)
		health := ServiceHealth{
			Service:             service,
			Grade:               gradeFor(rate),
			ErrorRate:           rate,
			Samples:             total,
			ConsecutiveFailures: breaker.ConsecutiveFailures(),
			Circuit:             breaker.Evaluate(now),
		}
		report.Services[service] = health
		report.Overall = report.Overall.worse(health.Grade)
	}

	if raw, err := json.Marshal(report); err == nil {
		if err := c.store.Set(ctx, map[string][]byte{statestore.KeyHealthStatus: raw}); err != nil {
			c.logger.Warn().Err(err).Msg("persist health report")
		}
	}
	return report
}

// RunHealthLoop periodically re-grades services until the context ends.
func (c *Controller) RunHealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := c.EvaluateHealth(ctx)
			if report.Overall != GradeHealthy {
				c.logger.Warn().Str("overall", string(report.Overall)).Msg("service health degraded")
			}
		}
	}
}

func gradeFor(errorRate float64) Grade {
	switch {
	case errorRate > 0.5:
		return GradeCritical
	case errorRate > 0.2:
		return GradeUnhealthy
	case errorRate > 0.1:
		return GradeDegraded
	default:
		return GradeHealthy
	}
}
