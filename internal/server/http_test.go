package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cvejlbo/avs-device-sdk/internal/config"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
	"github.com/cvejlbo/avs-device-sdk/internal/notify"
)

type stubDetector struct {
	stats kwd.Stats
}

func (d *stubDetector) Stats() kwd.Stats {
	return d.stats
}

func newTestHTTPServer(t *testing.T, running bool) (*HTTPServer, *notify.Hub, *httptest.Server) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	hub := notify.NewHub(10, discardLogger(), m)

	cfg := config.Default()
	cfg.Webhook.Secret = "top-secret"

	det := &stubDetector{stats: kwd.Stats{
		State:    kwd.StateActive,
		Running:  running,
		Keyword:  "alexa",
		PipePath: "/tmp/kwd",
	}}
	if !running {
		det.stats.State = kwd.StateInactive
	}

	h := NewHTTPServer(&cfg.HTTP, discardLogger(), Components{
		Config:   cfg,
		Detector: det,
		Hub:      hub,
		Gatherer: reg,
		Metrics:  m,
	})

	ts := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Stop(context.Background())
		ts.Close()
		hub.Close()
	})
	return h, hub, ts
}

func getJSON(t *testing.T, url string, expectStatus int) map[string]any {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectStatus {
		t.Fatalf("GET %s: expected status %d, got %d", url, expectStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("GET %s: expected JSON, got %q", url, ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("GET %s: invalid JSON: %v", url, err)
	}
	return body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name         string
		running      bool
		expectStatus int
		expectBody   string
	}{
		{name: "running detector", running: true, expectStatus: http.StatusOK, expectBody: "healthy"},
		{name: "stopped detector", running: false, expectStatus: http.StatusServiceUnavailable, expectBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ts := newTestHTTPServer(t, tt.running)

			body := getJSON(t, ts.URL+"/health", tt.expectStatus)
			if body["status"] != tt.expectBody {
				t.Errorf("Expected status %q, got %v", tt.expectBody, body["status"])
			}
			components, ok := body["components"].(map[string]any)
			if !ok {
				t.Fatalf("Expected components object, got %v", body["components"])
			}
			if _, ok := components["udp_server"]; ok {
				t.Error("Expected no udp_server component when ingest is disabled")
			}
		})
	}
}

func TestDetectorEndpoint(t *testing.T) {
	_, hub, ts := newTestHTTPServer(t, true)

	hub.OnStateChanged(kwd.StateActive)
	for i := uint64(1); i <= 3; i++ {
		hub.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, i*100)
	}

	body := getJSON(t, ts.URL+"/detector", http.StatusOK)
	det := body["detector"].(map[string]any)
	if det["state"] != "ACTIVE" || det["keyword"] != "alexa" {
		t.Errorf("Unexpected detector stats %v", det)
	}
	if events := body["recent_events"].([]any); len(events) != 4 {
		t.Errorf("Expected 4 recent events, got %d", len(events))
	}

	body = getJSON(t, ts.URL+"/detector?limit=1", http.StatusOK)
	events := body["recent_events"].([]any)
	if len(events) != 1 {
		t.Fatalf("Expected 1 recent event, got %d", len(events))
	}
	if last := events[0].(map[string]any); last["end_index"] != float64(300) {
		t.Errorf("Expected newest event, got %v", last)
	}

	resp, err := http.Get(ts.URL + "/detector?limit=abc")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid limit, got %d", resp.StatusCode)
	}
}

func TestConfigOmitsSecret(t *testing.T) {
	_, _, ts := newTestHTTPServer(t, true)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if strings.Contains(string(raw), "top-secret") {
		t.Errorf("Config response leaked the webhook secret: %s", raw)
	}
	if !strings.Contains(string(raw), `"pipe_path":"/home/pi/ndp-kwd"`) {
		t.Errorf("Expected detector pipe path in config: %s", raw)
	}
}

func TestStats(t *testing.T) {
	_, hub, ts := newTestHTTPServer(t, true)
	hub.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, 1)

	body := getJSON(t, ts.URL+"/stats", http.StatusOK)
	events := body["events"].(map[string]any)
	if events["keywords"] != float64(1) {
		t.Errorf("Expected 1 keyword event, got %v", events["keywords"])
	}
	for _, key := range []string{"udp", "webhook", "stream"} {
		if _, ok := body[key]; ok {
			t.Errorf("Expected %q to be absent when not configured", key)
		}
	}
}

func TestRootAndNotFound(t *testing.T) {
	_, _, ts := newTestHTTPServer(t, true)

	body := getJSON(t, ts.URL+"/", http.StatusOK)
	if _, ok := body["endpoints"]; !ok {
		t.Error("Expected endpoint listing")
	}

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := newTestHTTPServer(t, true)

	for _, path := range []string{"/", "/health", "/detector", "/stats", "/config"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Post(ts.URL+path, "application/json", nil)
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405, got %d", resp.StatusCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestHTTPServer(t, true)

	// Generate one instrumented request first
	getJSON(t, ts.URL+"/health", http.StatusOK)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(raw), `kwd_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`) {
		t.Errorf("Expected recorded /health request in metrics output:\n%s", raw)
	}
}

func TestEventsWebSocket(t *testing.T) {
	_, hub, ts := newTestHTTPServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("Expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the feed to subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, 640)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != notify.EventKeyword || ev.Keyword != "alexa" {
		t.Errorf("Unexpected event %+v", ev)
	}
	if ev.EndIndex == nil || *ev.EndIndex != 640 {
		t.Errorf("Expected end index 640, got %v", ev.EndIndex)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Stats().Subscribers != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected subscription to be released after the client left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsWebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, ts := newTestHTTPServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("Expected dial to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

func TestIsLocalhostOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"http://127.0.0.1", true},
		{"http://[::1]:8080", true},
		{"https://example.com", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := isLocalhostOrigin(tt.origin); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
