package s3

import (
	"context"
	"testing"
	"time"
)

func TestNewBackend_EmptyBucket(t *testing.T) {
	ctx := context.Background()
	backend, err := NewBackend(ctx, "", &Config{Region: "us-east-1"})
	if err == nil {
		t.Fatal("expected error for empty bucket name")
	}
	if backend != nil {
		t.Fatal("expected nil backend on error")
	}
}

func TestBackendMetrics_InitialState(t *testing.T) {
	var m BackendMetrics
	if m.Requests != 0 || m.Errors != 0 {
		t.Errorf("expected zero-value metrics, got %+v", m)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"file.json", "application/json"},
		{"file.xml", "application/xml"},
		{"file.html", "text/html"},
		{"file.txt", "text/plain"},
		{"file.jpg", "image/jpeg"},
		{"file.jpeg", "image/jpeg"},
		{"file.png", "image/png"},
		{"file.pdf", "application/pdf"},
		{"file.unknown", "application/octet-stream"},
		{"file", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := detectContentType(tt.key); got != tt.expected {
			t.Errorf("detectContentType(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestBackend_recordMetrics(t *testing.T) {
	b := &Backend{localMetrics: NewMetricsCollector()}

	b.localMetrics.RecordMetrics(100*time.Millisecond, false)
	m := b.GetMetrics()
	if m.Requests != 1 || m.Errors != 0 {
		t.Errorf("after first record: %+v", m)
	}
	if m.AverageLatency != 100*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 100ms", m.AverageLatency)
	}

	b.localMetrics.RecordMetrics(200*time.Millisecond, true)
	m = b.GetMetrics()
	if m.Requests != 2 || m.Errors != 1 {
		t.Errorf("after second record: %+v", m)
	}
	wantAvg := time.Duration((int64(100*time.Millisecond)*9 + int64(200*time.Millisecond)) / 10)
	if m.AverageLatency != wantAvg {
		t.Errorf("AverageLatency = %v, want %v", m.AverageLatency, wantAvg)
	}
}

func TestBackend_recordError(t *testing.T) {
	b := &Backend{localMetrics: NewMetricsCollector()}
	err := context.DeadlineExceeded

	b.localMetrics.RecordError(err)

	m := b.GetMetrics()
	if m.LastError != err.Error() {
		t.Errorf("LastError = %q, want %q", m.LastError, err.Error())
	}
	if m.LastErrorTime.IsZero() {
		t.Error("LastErrorTime should be set")
	}
}

func TestBackend_SupportsURIScheme(t *testing.T) {
	b := &Backend{}

	if !b.SupportsURIScheme("s3://bucket/key") {
		t.Error("expected s3:// URI to be supported")
	}
	if b.SupportsURIScheme("file:///tmp/x") {
		t.Error("expected file:// URI to be unsupported")
	}
}

func TestBackend_dirMarkerKey(t *testing.T) {
	b := &Backend{}

	if got := b.dirMarkerKey("a/b"); got != "a/b/.keep" {
		t.Errorf("dirMarkerKey = %q, want %q", got, "a/b/.keep")
	}
	if got := b.dirMarkerKey("a/b/"); got != "a/b/.keep" {
		t.Errorf("dirMarkerKey = %q, want %q", got, "a/b/.keep")
	}
}

func TestBackend_withPrefix(t *testing.T) {
	b := &Backend{}

	if got := b.withPrefix("a/b"); got != "a/b/" {
		t.Errorf("withPrefix = %q, want %q", got, "a/b/")
	}
	if got := b.withPrefix(""); got != "" {
		t.Errorf("withPrefix(\"\") = %q, want empty", got)
	}
}
