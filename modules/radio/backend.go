package radio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/voxradio/radiod/pkg/catalog"
	"github.com/voxradio/radiod/pkg/icy"
	"github.com/voxradio/radiod/pkg/nowplaying"
)

// Health is the liveness a backend reports for its open stream.
type Health int

const (
	HealthOk Health = iota
	HealthStalled
	HealthError
)

func (h Health) String() string {
	switch h {
	case HealthOk:
		return "ok"
	case HealthStalled:
		return "stalled"
	case HealthError:
		return "error"
	default:
		return "unknown"
	}
}

// Backend is the media pipeline boundary. The engine opens and closes
// stations through it and reads now-playing metadata from it; what happens to
// the audio itself is the backend's business.
type Backend interface {
	Open(ctx context.Context, station *catalog.Station) error
	Close() error
	SetVolume(v int) error
	NowPlaying(ctx context.Context) (string, error)
	Health() Health
}

// StreamBackend monitors stations over their ICY streams. Stations with a
// sideband now-playing source are read from that source first, with the
// inline stream title as fallback.
type StreamBackend struct {
	logger *slog.Logger

	mtx      sync.Mutex
	stream   *icy.Stream
	sideband nowplaying.Provider
	volume   int
}

func NewStreamBackend(logger *slog.Logger) *StreamBackend {
	return &StreamBackend{logger: logger}
}

// Open connects to the station's stream, replacing any stream already open.
func (b *StreamBackend) Open(ctx context.Context, station *catalog.Station) error {
	stream, err := icy.Open(ctx, station.StreamURL)
	if err != nil {
		return errors.Wrapf(err, "open stream for %s", station.ID)
	}

	var sideband nowplaying.Provider
	if station.NowPlaying != nil {
		sideband = nowplaying.NewHTTP(*station.NowPlaying)
	}

	b.mtx.Lock()
	old := b.stream
	b.stream = stream
	b.sideband = sideband
	b.mtx.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			b.logger.Warn("error closing previous stream", "err", err)
		}
	}

	b.logger.Debug("stream open",
		"station", station.ID,
		"name", stream.Name,
		"bitrate", stream.Bitrate,
	)
	return nil
}

// Close tears down the open stream. Closing an idle backend is a no-op.
func (b *StreamBackend) Close() error {
	b.mtx.Lock()
	stream := b.stream
	b.stream = nil
	b.sideband = nil
	b.mtx.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}

// SetVolume records the level for the audio sink.
func (b *StreamBackend) SetVolume(v int) error {
	b.mtx.Lock()
	b.volume = v
	b.mtx.Unlock()
	return nil
}

// NowPlaying returns the current track string. The sideband source wins when
// it has something to say; otherwise the inline ICY title is used. An empty
// string with nil error is a valid "nothing known yet" reading.
func (b *StreamBackend) NowPlaying(ctx context.Context) (string, error) {
	b.mtx.Lock()
	stream, sideband := b.stream, b.sideband
	b.mtx.Unlock()

	if stream == nil {
		return "", errors.New("no open stream")
	}

	if sideband != nil {
		title, err := sideband.Fetch(ctx)
		if err != nil {
			b.logger.Debug("sideband read failed, falling back to inline title", "err", err)
		} else if title != "" {
			return title, nil
		}
	}

	return stream.NowPlaying(), nil
}

// Health reports the open stream's liveness. An idle backend reports
// HealthError since there is nothing to read from.
func (b *StreamBackend) Health() Health {
	b.mtx.Lock()
	stream := b.stream
	b.mtx.Unlock()

	if stream == nil {
		return HealthError
	}

	switch stream.Health() {
	case icy.HealthOk:
		return HealthOk
	case icy.HealthStalled:
		return HealthStalled
	default:
		return HealthError
	}
}
