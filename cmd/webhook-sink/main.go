// Command webhook-sink is a development receiver for detector webhooks. It
// logs every delivery and, when a secret is given, verifies its signature.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/cvejlbo/avs-device-sdk/internal/notify"
)

type sink struct {
	secret  string
	failPct int
	logger  *slog.Logger
	count   atomic.Int64
}

func (s *sink) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	if s.secret != "" && !notify.VerifySignature(s.secret, body, r.Header.Get(notify.HeaderSignature)) {
		s.logger.Warn("Rejected delivery with bad signature",
			slog.String("event_id", r.Header.Get(notify.HeaderEventID)),
			slog.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var ev notify.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "Invalid event", http.StatusBadRequest)
		return
	}

	n := s.count.Add(1)
	// Roughly failPct percent of deliveries fail to exercise sender retries
	if s.failPct > 0 && n%int64(100/s.failPct) == 0 {
		s.logger.Info("Simulating failure", slog.String("event_id", ev.ID))
		http.Error(w, "Simulated failure", http.StatusServiceUnavailable)
		return
	}

	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.Time("timestamp", ev.Timestamp),
		slog.Duration("delivery_lag", time.Since(ev.Timestamp)),
	}
	switch ev.Type {
	case notify.EventKeyword:
		attrs = append(attrs, slog.String("keyword", ev.Keyword))
		if ev.EndIndex != nil {
			attrs = append(attrs, slog.Uint64("end_index", *ev.EndIndex))
		}
	case notify.EventState:
		attrs = append(attrs, slog.String("state", ev.State))
	}
	s.logger.Info("Event received", attrs...)

	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	secret := flag.String("secret", os.Getenv("KWD_WEBHOOK_SECRET"), "HMAC secret shared with the detector")
	failPct := flag.Int("fail-percent", 0, "percentage of deliveries to answer with 503")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *failPct < 0 || *failPct > 100 {
		logger.Error("fail-percent must be between 0 and 100")
		os.Exit(1)
	}

	s := &sink{secret: *secret, failPct: *failPct, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvent)

	logger.Info("Webhook sink starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/events"),
		slog.Bool("verify_signature", *secret != ""),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
