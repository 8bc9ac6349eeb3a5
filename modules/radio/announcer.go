package radio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxradio/radiod/pkg/catalog"
)

// Event is one track-change announcement.
type Event struct {
	ID        string    `json:"id"`
	StationID string    `json:"station_id"`
	Station   string    `json:"station"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Sink delivers announcements somewhere. Delivery is best-effort; a failed
// delivery is logged and dropped, never retried.
type Sink interface {
	Name() string
	Announce(ctx context.Context, ev Event) error
}

// LogSink announces to the daemon's log. It is always wired, so every track
// change is visible even with no assistant attached.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Announce(_ context.Context, ev Event) error {
	s.logger.Info("announcement",
		"text", ev.Text,
		"station", ev.StationID,
		"title", ev.Title,
	)
	return nil
}

// WebhookSink POSTs announcements to an assistant endpoint as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Announce(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from webhook", resp.StatusCode)
	}
	return nil
}

// Announcer formats track changes and hands them to its sinks without
// blocking the caller.
type Announcer struct {
	logger  *slog.Logger
	cfg     AnnounceConfig
	sinks   []Sink
	metrics *metrics

	wg sync.WaitGroup
}

func NewAnnouncer(cfg AnnounceConfig, logger *slog.Logger, metrics *metrics, sinks ...Sink) *Announcer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAnnounceTimeout
	}
	return &Announcer{
		logger:  logger,
		cfg:     cfg,
		sinks:   sinks,
		metrics: metrics,
	}
}

// Announce formats the event and dispatches it to every sink in the
// background. Safe to call while holding playback locks; only formatting and
// goroutine handoff happen here.
func (a *Announcer) Announce(station *catalog.Station, title string) {
	ev := Event{
		ID:        uuid.NewString(),
		StationID: station.ID,
		Station:   station.Name,
		Title:     title,
		Text:      a.render(station.Name, title),
		At:        time.Now(),
	}

	for _, sink := range a.sinks {
		sink := sink
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
			defer cancel()

			if err := sink.Announce(ctx, ev); err != nil {
				a.metrics.announcements.WithLabelValues(sink.Name(), "error").Inc()
				a.logger.Warn("announcement delivery failed",
					"sink", sink.Name(),
					"id", ev.ID,
					"err", err,
				)
				return
			}
			a.metrics.announcements.WithLabelValues(sink.Name(), "ok").Inc()
		}()
	}
}

// Drain waits for in-flight deliveries. Called once at module stop.
func (a *Announcer) Drain() {
	a.wg.Wait()
}

// render builds the spoken text for a track change.
func (a *Announcer) render(station, title string) string {
	switch {
	case a.cfg.Template != "":
		out := a.cfg.Template
		out = strings.ReplaceAll(out, "{track}", title)
		out = strings.ReplaceAll(out, "{station}", station)
		return out
	case a.cfg.Style == "dj":
		return fmt.Sprintf("You're tuned to %s, and this is %s.", station, title)
	default:
		return fmt.Sprintf("Now playing: %s on %s", title, station)
	}
}
