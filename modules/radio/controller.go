package radio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voxradio/radiod/pkg/catalog"
	"github.com/voxradio/radiod/pkg/projection"
)

// State is the playback state machine.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StateSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of playback state.
type Snapshot struct {
	State       State
	StationID   string
	StationName string
	Description string

	// TrackTitle is the raw current title, empty when none is known yet.
	TrackTitle string
	// NowPlaying is the display form, never empty while tuned: falls back
	// to "{StationName} - Unknown track".
	NowPlaying string

	Volume int
	Mode   Mode

	// LastPollAt is when the current session last completed a metadata
	// poll. Zero while stopped or before the first poll lands.
	LastPollAt time.Time
}

// Controller owns all playback state. Commands and poll results are
// serialized by one mutex; a session counter fences poll reads that were in
// flight when the session they belong to ended.
type Controller struct {
	logger  *slog.Logger
	cfg     *Config
	catalog *catalog.Catalog
	backend Backend
	store   *projection.Store
	ann     *Announcer
	metrics *metrics

	mtx            sync.Mutex
	state          State
	station        *catalog.Station
	volume         int
	session        uint64
	mode           Mode
	repeatCount    int
	lastNormalized string
	trackTitle     string
	lastPollAt     time.Time

	// lastStationID and lastTitle mirror the persisted projection. They
	// survive Stop so a later restart can resume.
	lastStationID string
	lastTitle     string

	// Restart dedup seed, consumed by the first start of the persisted
	// station.
	seedStationID  string
	seedNormalized string

	pollCancel context.CancelFunc
	pollWg     sync.WaitGroup
}

// NewController builds a stopped controller, seeded from the persisted
// projection when one was loaded.
func NewController(cfg *Config, logger *slog.Logger, cat *catalog.Catalog, backend Backend, store *projection.Store, ann *Announcer, metrics *metrics, proj *projection.Projection) *Controller {
	c := &Controller{
		logger:  logger,
		cfg:     cfg,
		catalog: cat,
		backend: backend,
		store:   store,
		ann:     ann,
		metrics: metrics,
		state:   StateStopped,
		volume:  clampVolume(cfg.DefaultVolume),
		mode:    ModeLazy,
	}

	if proj != nil {
		c.volume = clampVolume(proj.Volume)
		c.lastStationID = proj.StationID
		c.lastTitle = proj.LastTrackTitle
		if proj.StationID != "" && proj.LastTrackTitle != "" {
			c.seedStationID = proj.StationID
			c.seedNormalized = Normalize(proj.LastTrackTitle)
		}
	}

	return c
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Play tunes to the station matching query. An empty query replays the last
// persisted station, then the configured default, then the first catalog
// entry.
func (c *Controller) Play(ctx context.Context, query string) (Snapshot, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	st, err := c.resolveTargetLocked(query)
	if err != nil {
		c.metrics.commands.WithLabelValues("play", "error").Inc()
		return Snapshot{}, err
	}

	snap, err := c.tuneLocked(ctx, st)
	if err != nil {
		c.metrics.commands.WithLabelValues("play", "error").Inc()
		return Snapshot{}, err
	}
	c.metrics.commands.WithLabelValues("play", "ok").Inc()
	return snap, nil
}

// ChangeStation switches to the station matching query. Unlike Play the
// query is required. From Stopped it behaves like Play.
func (c *Controller) ChangeStation(ctx context.Context, query string) (Snapshot, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	st, err := c.catalog.Resolve(query)
	if err != nil {
		c.metrics.commands.WithLabelValues("change_station", "error").Inc()
		return Snapshot{}, err
	}

	snap, err := c.tuneLocked(ctx, st)
	if err != nil {
		c.metrics.commands.WithLabelValues("change_station", "error").Inc()
		return Snapshot{}, err
	}
	c.metrics.commands.WithLabelValues("change_station", "ok").Inc()
	return snap, nil
}

// Stop ends playback. Stopping an already stopped controller is a no-op.
func (c *Controller) Stop(_ context.Context) Snapshot {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.stopLocked()
	c.metrics.commands.WithLabelValues("stop", "ok").Inc()
	return c.snapshotLocked()
}

// SetVolume sets the playback volume. Valid in every state; the level is
// persisted and applied to the backend when one is open.
func (c *Controller) SetVolume(_ context.Context, v int) (Snapshot, error) {
	if v < 0 || v > 100 {
		c.metrics.commands.WithLabelValues("set_volume", "error").Inc()
		return Snapshot{}, errors.Wrapf(ErrInvalidVolume, "%d", v)
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.volume = v
	if c.state == StatePlaying {
		if err := c.backend.SetVolume(v); err != nil {
			c.logger.Warn("error applying volume", "err", err)
		}
	}
	c.persistLocked()
	c.metrics.commands.WithLabelValues("set_volume", "ok").Inc()
	c.logger.Debug("volume set", "volume", v)
	return c.snapshotLocked(), nil
}

// Status returns the current playback snapshot.
func (c *Controller) Status() Snapshot {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.snapshotLocked()
}

// Stations lists the catalog.
func (c *Controller) Stations() []*catalog.Station {
	return c.catalog.List()
}

// Shutdown stops playback and waits for the poll loop to exit.
func (c *Controller) Shutdown() {
	c.mtx.Lock()
	c.stopLocked()
	c.mtx.Unlock()
	c.pollWg.Wait()
}

// tuneLocked moves playback to st from whatever the current state is.
func (c *Controller) tuneLocked(ctx context.Context, st *catalog.Station) (Snapshot, error) {
	if c.state == StatePlaying && c.station != nil && c.station.ID == st.ID {
		return c.snapshotLocked(), nil
	}
	if c.state == StatePlaying {
		return c.switchLocked(ctx, st)
	}
	return c.startLocked(ctx, st)
}

// startLocked opens st on the backend and begins a new play session. On
// open failure the controller stays Stopped.
func (c *Controller) startLocked(ctx context.Context, st *catalog.Station) (Snapshot, error) {
	openCtx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
	err := c.backend.Open(openCtx, st)
	cancel()
	if err != nil {
		c.logger.Warn("backend open failed", "station", st.ID, "err", err)
		c.state = StateStopped
		c.station = nil
		c.metrics.playing.Set(0)
		return Snapshot{}, errors.Wrapf(ErrBackendUnavailable, "station %s: %v", st.ID, err)
	}

	if err := c.backend.SetVolume(c.volume); err != nil {
		c.logger.Warn("error applying volume", "err", err)
	}

	c.state = StatePlaying
	c.station = st
	c.mode = ModeLazy
	c.repeatCount = 0
	c.trackTitle = ""
	c.lastNormalized = ""
	c.lastPollAt = time.Time{}

	// A restart resuming the persisted station seeds the detector with the
	// persisted title, so the track playing across the restart is not
	// announced a second time. The seed is single-use.
	if c.seedStationID == st.ID && c.seedNormalized != "" {
		c.lastNormalized = c.seedNormalized
	}
	c.seedStationID, c.seedNormalized = "", ""

	if c.lastStationID != st.ID {
		c.lastTitle = ""
	}
	c.lastStationID = st.ID

	c.session++
	c.startPollerLocked()

	c.metrics.playing.Set(1)
	c.metrics.pollMode.Set(float64(ModeLazy))
	c.persistLocked()

	c.logger.Info("playing", "station", st.ID, "name", st.Name, "volume", c.volume)
	return c.snapshotLocked(), nil
}

// switchLocked tears down the current session and starts st. On open
// failure playback ends up Stopped, never half-switched.
func (c *Controller) switchLocked(ctx context.Context, st *catalog.Station) (Snapshot, error) {
	c.logger.Info("switching station", "from", c.station.ID, "to", st.ID)

	c.state = StateSwitching
	c.cancelPollLocked()
	c.session++
	if err := c.backend.Close(); err != nil {
		c.logger.Warn("error closing backend", "err", err)
	}
	c.station = nil
	c.trackTitle = ""
	c.lastNormalized = ""
	c.repeatCount = 0
	c.mode = ModeLazy

	return c.startLocked(ctx, st)
}

func (c *Controller) stopLocked() {
	if c.state == StateStopped {
		return
	}

	c.cancelPollLocked()
	c.session++
	if err := c.backend.Close(); err != nil {
		c.logger.Warn("error closing backend", "err", err)
	}

	c.state = StateStopped
	c.station = nil
	c.trackTitle = ""
	c.lastNormalized = ""
	c.repeatCount = 0
	c.mode = ModeLazy
	c.lastPollAt = time.Time{}

	c.metrics.playing.Set(0)
	c.metrics.pollMode.Set(float64(ModeLazy))
	c.persistLocked()
	c.logger.Info("stopped")
}

// pollOnce performs one read-and-apply cycle and returns the effective poll
// mode. The backend read happens outside the lock; results are applied only
// when they still belong to the current session.
func (c *Controller) pollOnce(ctx context.Context) Mode {
	c.mtx.Lock()
	if c.state != StatePlaying {
		m := c.mode
		c.mtx.Unlock()
		return m
	}
	session := c.session
	station := c.station
	timeout := c.cfg.BackendTimeout
	c.mtx.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	raw, err := c.backend.NowPlaying(readCtx)
	cancel()
	c.metrics.pollDuration.Observe(time.Since(start).Seconds())
	health := c.backend.Health()

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.session != session || c.state != StatePlaying {
		c.metrics.polls.WithLabelValues("stale").Inc()
		return c.mode
	}

	c.lastPollAt = time.Now()
	c.metrics.backendHealth.Set(float64(health))
	if health != HealthOk {
		c.logger.Debug("backend health degraded", "health", health.String(), "station", station.ID)
	}

	if err != nil {
		c.metrics.polls.WithLabelValues("error").Inc()
		c.logger.Debug("metadata read failed", "station", station.ID, "err", err)
		return c.mode
	}

	if strings.TrimSpace(raw) == "" {
		c.metrics.polls.WithLabelValues("missed").Inc()
		return c.mode
	}

	d := Evaluate(raw, c.lastNormalized, c.repeatCount, c.mode, c.cfg.RepeatThreshold)
	if d.Mode != c.mode {
		c.logger.Debug("poll mode changed", "mode", d.Mode.String())
	}
	c.mode = d.Mode
	c.repeatCount = d.RepeatCount
	c.lastNormalized = d.Normalized
	c.metrics.polls.WithLabelValues("ok").Inc()
	c.metrics.pollMode.Set(float64(d.Mode))

	title := strings.Join(strings.Fields(raw), " ")
	if d.Announce {
		c.trackTitle = title
		c.lastTitle = title
		c.metrics.trackChanges.Inc()
		c.persistLocked()
		c.ann.Announce(c.station, title)
		c.logger.Info("track change", "station", c.station.ID, "title", title)
	} else if c.trackTitle == "" {
		// Suppressed by the restart seed; the display title still needs
		// filling in.
		c.trackTitle = title
	}

	return c.mode
}

// resolveTargetLocked picks the station for a play request. An explicit
// query always resolves against the catalog; an empty one falls back to the
// last persisted station, the configured default, and finally the first
// catalog entry.
func (c *Controller) resolveTargetLocked(query string) (*catalog.Station, error) {
	if q := strings.TrimSpace(query); q != "" {
		return c.catalog.Resolve(q)
	}

	if c.lastStationID != "" {
		if st, err := c.catalog.Get(c.lastStationID); err == nil {
			return st, nil
		}
		// The persisted station left the catalog; fall through.
	}

	if c.cfg.DefaultStation != "" {
		if st, err := c.catalog.Resolve(c.cfg.DefaultStation); err == nil {
			return st, nil
		}
		c.logger.Warn("configured default station not in catalog", "station", c.cfg.DefaultStation)
	}

	return c.catalog.List()[0], nil
}

func (c *Controller) startPollerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel

	p := &poller{
		logger: c.logger,
		lazy:   c.cfg.LazyPollInterval,
		active: c.cfg.ActivePollInterval,
		poll:   c.pollOnce,
	}

	c.pollWg.Add(1)
	go func() {
		defer c.pollWg.Done()
		p.run(ctx)
	}()
}

func (c *Controller) cancelPollLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func (c *Controller) persistLocked() {
	p := &projection.Projection{
		StationID:      c.lastStationID,
		LastTrackTitle: c.lastTitle,
		Volume:         c.volume,
	}
	if err := c.store.Save(p); err != nil {
		c.logger.Warn("error persisting playback state", "err", err)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:      c.state,
		Volume:     c.volume,
		Mode:       c.mode,
		LastPollAt: c.lastPollAt,
	}
	if c.station != nil {
		s.StationID = c.station.ID
		s.StationName = c.station.Name
		s.Description = c.station.Description
		s.TrackTitle = c.trackTitle
		if c.trackTitle != "" {
			s.NowPlaying = c.trackTitle
		} else {
			s.NowPlaying = c.station.Name + " - Unknown track"
		}
	}
	return s
}
