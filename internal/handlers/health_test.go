package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc1234", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", payload["status"])
	}
	if payload["version"] != "1.4.0" || payload["commit"] != "abc1234" {
		t.Fatalf("build fields = %v/%v", payload["version"], payload["commit"])
	}
	if payload["uptime"] != "1m30s" {
		t.Fatalf("uptime = %v, want 1m30s", payload["uptime"])
	}
}

func TestReadyzDegradesOnProbeFailure(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessProbe("firestore", func(context.Context) error { return nil }),
		WithReadinessProbe("pubsub", func(context.Context) error { return errors.New("topic missing") }),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", payload.Status)
	}
	if payload.Checks["firestore"] != "ok" {
		t.Fatalf("firestore check = %q, want ok", payload.Checks["firestore"])
	}
	if payload.Checks["pubsub"] != "topic missing" {
		t.Fatalf("pubsub check = %q", payload.Checks["pubsub"])
	}
}

func TestReadyzHealthyWithoutProbes(t *testing.T) {
	h := NewHealthHandlers()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
