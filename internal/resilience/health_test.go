package resilience

import (
	"context"
	"testing"
	"time"

	"horse.fit/lingo/internal/translation"
)

func TestHealthGrading(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		failures int
		total    int
		want     Grade
	}{
		{"all successes", 0, 10, GradeHealthy},
		{"just over ten percent", 2, 16, GradeDegraded},
		{"just over twenty percent", 5, 20, GradeUnhealthy},
		{"majority failing", 6, 10, GradeCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestController(t)
			ctx := context.Background()
			err := translation.NewError(translation.KindNetwork, ServiceTranslation, "refused")

			for i := 0; i < tc.failures; i++ {
				c.HandleError(ctx, err, ServiceTranslation, 0)
			}
			for i := 0; i < tc.total-tc.failures; i++ {
				c.RecordSuccess(ServiceTranslation)
			}

			report := c.EvaluateHealth(ctx)
			health, ok := report.Services[ServiceTranslation]
			if !ok {
				t.Fatal("missing translation service in report")
			}
			if health.Grade != tc.want {
				t.Fatalf("grade = %s (rate %.2f), want %s", health.Grade, health.ErrorRate, tc.want)
			}
		})
	}
}

func TestHealthOverallTakesWorstService(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.RecordSuccess(ServiceCache)
	}
	err := translation.NewError(translation.KindNetwork, ServiceTranslation, "refused")
	for i := 0; i < 6; i++ {
		c.HandleError(ctx, err, ServiceTranslation, 0)
	}
	for i := 0; i < 4; i++ {
		c.RecordSuccess(ServiceTranslation)
	}

	report := c.EvaluateHealth(ctx)
	if report.Services[ServiceCache].Grade != GradeHealthy {
		t.Fatalf("cache grade = %s, want healthy", report.Services[ServiceCache].Grade)
	}
	if report.Overall != GradeCritical {
		t.Fatalf("overall = %s, want critical", report.Overall)
	}
}

func TestHealthWindowExpiresOldFailures(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t)
	ctx := context.Background()
	err := translation.NewError(translation.KindNetwork, ServiceTranslation, "refused")

	for i := 0; i < 6; i++ {
		c.HandleError(ctx, err, ServiceTranslation, 0)
	}

	// Six minutes later the failures fall outside the five-minute window.
	*clock = clock.Add(6 * time.Minute)
	for i := 0; i < 4; i++ {
		c.RecordSuccess(ServiceTranslation)
	}

	report := c.EvaluateHealth(ctx)
	health := report.Services[ServiceTranslation]
	if health.ErrorRate != 0 {
		t.Fatalf("error rate = %.2f, want 0 after window expiry", health.ErrorRate)
	}
	if health.Grade != GradeHealthy {
		t.Fatalf("grade = %s, want healthy", health.Grade)
	}
}
