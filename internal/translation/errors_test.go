package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	t.Parallel()

	retryable := []Kind{KindNetwork, KindTimeout, KindServiceUnavailable, KindRateLimited}
	for _, kind := range retryable {
		if !kind.Retryable() {
			t.Fatalf("expected %s to be retryable", kind)
		}
	}

	terminal := []Kind{
		KindQuotaExceeded, KindUnauthorized, KindForbidden, KindInvalidRequest,
		KindTextTooLong, KindParsing, KindCache, KindBatch, KindCancelled, KindUnknown,
	}
	for _, kind := range terminal {
		if kind.Retryable() {
			t.Fatalf("expected %s to be terminal", kind)
		}
	}
}

func TestClassifyContextErrors(t *testing.T) {
	t.Parallel()

	if got := Classify(context.DeadlineExceeded, "translation"); got.Kind != KindTimeout {
		t.Fatalf("expected timeout kind, got %s", got.Kind)
	}
	if got := Classify(context.Canceled, "translation"); got.Kind != KindCancelled {
		t.Fatalf("expected cancelled kind, got %s", got.Kind)
	}
	if got := Classify(errors.New("boom"), "translation"); got.Kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", got.Kind)
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	t.Parallel()

	original := NewError(KindQuotaExceeded, "", "monthly quota exhausted")
	wrapped := fmt.Errorf("send batch: %w", original)

	got := Classify(wrapped, "quota")
	if got.Kind != KindQuotaExceeded {
		t.Fatalf("expected quota kind to survive wrapping, got %s", got.Kind)
	}
	if got.Service != "quota" {
		t.Fatalf("expected service to be filled in, got %q", got.Service)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]Kind{
		http.StatusBadRequest:            KindInvalidRequest,
		http.StatusUnauthorized:          KindUnauthorized,
		http.StatusPaymentRequired:       KindQuotaExceeded,
		http.StatusForbidden:             KindForbidden,
		http.StatusRequestTimeout:        KindTimeout,
		http.StatusRequestEntityTooLarge: KindTextTooLong,
		http.StatusTooManyRequests:       KindRateLimited,
		http.StatusInternalServerError:   KindNetwork,
		http.StatusBadGateway:            KindServiceUnavailable,
		http.StatusServiceUnavailable:    KindServiceUnavailable,
		http.StatusGatewayTimeout:        KindServiceUnavailable,
	}
	for status, want := range cases {
		got := ClassifyHTTPStatus(status, "translation", "")
		if got.Kind != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got.Kind)
		}
		if got.HTTPStatus != status {
			t.Fatalf("status %d: expected status carried, got %d", status, got.HTTPStatus)
		}
	}
}
