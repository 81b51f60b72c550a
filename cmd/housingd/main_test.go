package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"housingcore/internal/config"
	"housingcore/internal/logging"
)

func testConfig(t *testing.T, exporter string) config.Config {
	t.Helper()
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		switch key {
		case "HOUSING_STORAGE_DRIVER":
			return "memory", true
		case "HOUSING_METRICS":
			return exporter, true
		case "HOUSING_METRICS_ADDR":
			return "127.0.0.1:0", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func startDaemon(t *testing.T, cfg config.Config) (string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logging.NewWithLevel("test", "error", io.Discard), ready) }()

	select {
	case addr := <-ready:
		return addr, func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("run returned %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Errorf("daemon did not shut down")
			}
		}
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("daemon did not start")
	}
	return "", nil
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 -- loopback test server
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestDaemonServesPrometheusMetrics(t *testing.T) {
	addr, stop := startDaemon(t, testConfig(t, "prometheus"))
	defer stop()

	if code, _ := get(t, "http://"+addr+"/healthz"); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
	code, body := get(t, "http://"+addr+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", code)
	}
}

func TestDaemonServesExpvar(t *testing.T) {
	addr, stop := startDaemon(t, testConfig(t, "expvar"))
	defer stop()

	code, body := get(t, "http://"+addr+"/debug/vars")
	if code != http.StatusOK || !strings.Contains(body, "housing_occupancy_metrics_") {
		t.Fatalf("unexpected expvar response %d", code)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t, "expvar")
	cfg.Reconcile.Schedule = "whenever"
	if err := run(context.Background(), cfg, logging.NewWithLevel("test", "error", io.Discard), nil); err == nil {
		t.Fatalf("expected schedule error")
	}
}
