package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewKeywordEvent(t *testing.T) {
	tests := []struct {
		name      string
		begin     uint64
		end       uint64
		wantBegin bool
		wantEnd   bool
	}{
		{name: "unspecified begin", begin: kwd.UnspecifiedIndex, end: 16000, wantEnd: true},
		{name: "both indices", begin: 8000, end: 16000, wantBegin: true, wantEnd: true},
		{name: "nothing reported", begin: kwd.UnspecifiedIndex, end: kwd.UnspecifiedIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewKeywordEvent("alexa", tt.begin, tt.end)

			if ev.Type != EventKeyword || ev.Keyword != "alexa" {
				t.Errorf("Unexpected event %+v", ev)
			}
			if ev.ID == "" {
				t.Error("Expected event ID")
			}
			if (ev.BeginIndex != nil) != tt.wantBegin {
				t.Errorf("Expected begin present=%v, got %v", tt.wantBegin, ev.BeginIndex)
			}
			if tt.wantBegin && *ev.BeginIndex != tt.begin {
				t.Errorf("Expected begin %d, got %d", tt.begin, *ev.BeginIndex)
			}
			if (ev.EndIndex != nil) != tt.wantEnd {
				t.Errorf("Expected end present=%v, got %v", tt.wantEnd, ev.EndIndex)
			}
			if tt.wantEnd && *ev.EndIndex != tt.end {
				t.Errorf("Expected end %d, got %d", tt.end, *ev.EndIndex)
			}
		})
	}
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(NewKeywordEvent("alexa", kwd.UnspecifiedIndex, 320))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "begin_index") {
		t.Errorf("Expected begin_index to be omitted: %s", s)
	}
	if !strings.Contains(s, `"end_index":320`) || !strings.Contains(s, `"type":"keyword"`) {
		t.Errorf("Unexpected JSON: %s", s)
	}

	data, _ = json.Marshal(NewStateEvent(kwd.StateActive))
	if !strings.Contains(string(data), `"state":"ACTIVE"`) {
		t.Errorf("Unexpected state JSON: %s", data)
	}
}

func TestHubRecent(t *testing.T) {
	h := NewHub(3, discardLogger(), nil)

	if got := h.Recent(0); len(got) != 0 {
		t.Fatalf("Expected no events, got %d", len(got))
	}

	for i := uint64(1); i <= 5; i++ {
		h.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, i)
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Expected 3 retained events, got %d", len(got))
	}
	for i, ev := range got {
		if want := uint64(i + 3); *ev.EndIndex != want {
			t.Errorf("Event %d: expected end index %d, got %d", i, want, *ev.EndIndex)
		}
	}

	last := h.Recent(1)
	if len(last) != 1 || *last[0].EndIndex != 5 {
		t.Errorf("Expected newest event only, got %+v", last)
	}

	stats := h.Stats()
	if stats.Published != 5 || stats.Keywords != 5 || stats.Retained != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestHubZeroHistory(t *testing.T) {
	h := NewHub(0, discardLogger(), nil)
	h.OnStateChanged(kwd.StateActive)

	if got := h.Recent(0); len(got) != 0 {
		t.Errorf("Expected no retained events, got %d", len(got))
	}
	if h.Stats().Published != 1 {
		t.Error("Expected event to be counted")
	}
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10, discardLogger(), nil)
	sub := h.Subscribe(4)

	h.OnStateChanged(kwd.StateActive)
	h.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, 100)

	for _, want := range []EventType{EventState, EventKeyword} {
		select {
		case ev := <-sub.C:
			if ev.Type != want {
				t.Errorf("Expected %s event, got %s", want, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for %s event", want)
		}
	}

	sub.Close()
	sub.Close()
	if _, ok := <-sub.C; ok {
		t.Error("Expected channel to be closed")
	}
	if h.Stats().Subscribers != 0 {
		t.Error("Expected no subscribers after close")
	}
}

func TestHubSlowSubscriber(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := NewHub(10, discardLogger(), m)

	slow := h.Subscribe(1)
	fast := h.Subscribe(10)

	for i := uint64(0); i < 3; i++ {
		h.OnKeyWordDetected(nil, "alexa", kwd.UnspecifiedIndex, i)
	}

	if len(slow.C) != 1 {
		t.Errorf("Expected slow subscriber to hold 1 event, got %d", len(slow.C))
	}
	if len(fast.C) != 3 {
		t.Errorf("Expected fast subscriber to hold 3 events, got %d", len(fast.C))
	}
	if got := h.Stats().Dropped; got != 2 {
		t.Errorf("Expected 2 dropped events, got %d", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 2 {
		t.Errorf("Expected dropped metric 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventSubscribers); got != 2 {
		t.Errorf("Expected subscriber gauge 2, got %v", got)
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(10, discardLogger(), nil)
	sub := h.Subscribe(1)

	h.Close()
	h.Close()

	if _, ok := <-sub.C; ok {
		t.Error("Expected subscription to be closed with the hub")
	}
	sub.Close()

	h.OnStateChanged(kwd.StateActive)
	if h.Stats().Published != 0 {
		t.Error("Expected closed hub to ignore events")
	}

	late := h.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("Expected subscription on a closed hub to be closed")
	}
}
