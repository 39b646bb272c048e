package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRunRejectsNonPositiveCounts(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--clients", "0"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "must be > 0") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunSelfHostedRound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--clients", "3", "--messages", "5", "--payload", "32"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d (stderr=%q)", code, stderr.String())
	}

	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v (stdout=%q)", err, stdout.String())
	}
	if !out.SelfHosted {
		t.Fatal("expected self-hosted run")
	}
	if out.Sent != 15 {
		t.Fatalf("sent = %d, want 15", out.Sent)
	}
	if out.Succeeded != 15 || out.Failed != 0 {
		t.Fatalf("succeeded = %d failed = %d, want 15/0", out.Succeeded, out.Failed)
	}
	if out.Latency.Count != 15 || out.Latency.MaxMs < out.Latency.MinMs {
		t.Fatalf("latency stats inconsistent: %+v", out.Latency)
	}
	if out.Throughput <= 0 {
		t.Fatalf("throughput = %f", out.Throughput)
	}
}

func TestPercentileBounds(t *testing.T) {
	samples := make([]int64, 100)
	for i := range samples {
		samples[i] = int64(i+1) * int64(time.Millisecond)
	}
	stats := computeLatency(samples)
	if stats.P50Ms < stats.MinMs || stats.P50Ms > stats.P95Ms || stats.P95Ms > stats.P99Ms || stats.P99Ms > stats.MaxMs {
		t.Fatalf("percentiles out of order: %+v", stats)
	}
	if stats.MinMs != 1 || stats.MaxMs != 100 {
		t.Fatalf("min/max = %f/%f", stats.MinMs, stats.MaxMs)
	}
}
