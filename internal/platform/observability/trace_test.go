package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orchardlane/storefront/internal/platform/requestctx"
)

func TestTraceMiddlewarePropagatesCloudTraceHeader(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"

	var captured requestctx.TraceInfo
	handler := TraceMiddleware("proj-1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Cloud-Trace-Context", traceID+"/00f067aa0ba902b7;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.TraceID != traceID {
		t.Fatalf("trace id = %q, want %q", captured.TraceID, traceID)
	}
	if !captured.Sampled {
		t.Fatalf("expected sampled trace")
	}
	if captured.ProjectID != "proj-1" {
		t.Fatalf("project id = %q", captured.ProjectID)
	}

	echoed := rec.Header().Get("X-Cloud-Trace-Context")
	if !strings.HasPrefix(echoed, traceID+"/") || !strings.HasSuffix(echoed, ";o=1") {
		t.Fatalf("unexpected response trace header %q", echoed)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		ok      bool
		spanID  string
		sampled bool
	}{
		{
			name:    "hex span sampled",
			header:  "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=1",
			ok:      true,
			spanID:  "00f067aa0ba902b7",
			sampled: true,
		},
		{
			name:   "decimal span",
			header: "105445aa7843bc8bf206b12000100000/12345;o=0",
			ok:     true,
			spanID: "0000000000003039",
		},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000"},
		{name: "short trace id", header: "abc/123;o=1"},
		{name: "empty", header: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, spanCtx, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if info.SpanID != tc.spanID {
				t.Fatalf("span id = %q, want %q", info.SpanID, tc.spanID)
			}
			if info.Sampled != tc.sampled {
				t.Fatalf("sampled = %v, want %v", info.Sampled, tc.sampled)
			}
			if !spanCtx.IsRemote() {
				t.Fatalf("expected remote span context")
			}
		})
	}
}

func TestFormatCloudTraceHeader(t *testing.T) {
	got := formatCloudTraceHeader(requestctx.TraceInfo{
		TraceID: "105445aa7843bc8bf206b12000100000",
		SpanID:  "00f067aa0ba902b7",
		Sampled: true,
	})
	want := "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=1"
	if got != want {
		t.Fatalf("header = %q, want %q", got, want)
	}

	if got := formatCloudTraceHeader(requestctx.TraceInfo{}); got != "" {
		t.Fatalf("expected empty header for zero info, got %q", got)
	}
}
