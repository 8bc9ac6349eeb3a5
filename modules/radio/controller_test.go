package radio

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxradio/radiod/pkg/catalog"
	"github.com/voxradio/radiod/pkg/projection"
)

// fakeBackend stands in for a stream backend. Its current title is a plain
// settable field, so duplicate polls read the same value just like a real
// stream.
type fakeBackend struct {
	mtx        sync.Mutex
	openID     string
	openCount  int
	closeCount int
	volume     int
	title      string
	health     Health
	openErr    error
	nowErr     error

	// When set, NowPlaying blocks until the gate closes or the read
	// context ends.
	nowGate chan struct{}
}

func (b *fakeBackend) Open(_ context.Context, st *catalog.Station) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.openErr != nil {
		return b.openErr
	}
	b.openID = st.ID
	b.openCount++
	b.title = ""
	return nil
}

func (b *fakeBackend) Close() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.openID = ""
	b.closeCount++
	return nil
}

func (b *fakeBackend) SetVolume(v int) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.volume = v
	return nil
}

func (b *fakeBackend) NowPlaying(ctx context.Context) (string, error) {
	b.mtx.Lock()
	gate := b.nowGate
	b.mtx.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.nowErr != nil {
		return "", b.nowErr
	}
	return b.title, nil
}

func (b *fakeBackend) Health() Health {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.health
}

func (b *fakeBackend) setTitle(s string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.title = s
}

func (b *fakeBackend) setNowErr(err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.nowErr = err
}

func (b *fakeBackend) setOpenErr(err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.openErr = err
}

func (b *fakeBackend) stats() (openID string, opens, closes, volume int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.openID, b.openCount, b.closeCount, b.volume
}

// captureSink records announcements for assertions.
type captureSink struct {
	mtx    sync.Mutex
	events []Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Announce(_ context.Context, ev Event) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) list() []Event {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]Event(nil), s.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStations() []catalog.Station {
	return []catalog.Station{
		{ID: "alpha", Name: "Alpha FM", StreamURL: "http://example.com/alpha", Description: "First test station."},
		{ID: "beta", Name: "Beta FM", StreamURL: "http://example.com/beta", Description: "Second test station."},
	}
}

type testRig struct {
	ctrl  *Controller
	fb    *fakeBackend
	sink  *captureSink
	store *projection.Store
	ann   *Announcer
}

// newTestRig builds a controller on a fake backend with poll intervals long
// enough that only the immediate per-session poll fires on its own.
func newTestRig(t *testing.T, mutate func(*Config), proj *projection.Projection) *testRig {
	t.Helper()

	cfg := &Config{}
	cfg.RegisterFlagsAndApplyDefaults("radio", flag.NewFlagSet("test", flag.PanicOnError))
	cfg.LazyPollInterval = time.Hour
	cfg.ActivePollInterval = time.Hour
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	if mutate != nil {
		mutate(cfg)
	}

	logger := testLogger()
	cat, err := catalog.New(testStations())
	if err != nil {
		t.Fatal(err)
	}
	store, err := projection.NewStore(cfg.StateFile)
	if err != nil {
		t.Fatal(err)
	}

	m := newMetrics(prometheus.NewRegistry())
	sink := &captureSink{}
	ann := NewAnnouncer(cfg.Announce, logger, m, sink)
	fb := &fakeBackend{}

	ctrl := NewController(cfg, logger, cat, fb, store, ann, m, proj)
	t.Cleanup(func() {
		ctrl.Shutdown()
		ann.Drain()
	})

	return &testRig{ctrl: ctrl, fb: fb, sink: sink, store: store, ann: ann}
}

func waitForEvents(t *testing.T, sink *captureSink, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := sink.list(); len(evs) >= want {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d announcement(s), have %d", want, len(sink.list()))
	return nil
}

// settle gives stray asynchronous work a moment to land before a negative
// assertion.
func settle() { time.Sleep(75 * time.Millisecond) }

func TestPlayAndAnnounce(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	snap, err := rig.ctrl.Play(ctx, "alpha")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if snap.State != StatePlaying || snap.StationID != "alpha" {
		t.Fatalf("snapshot: %+v", snap)
	}

	openID, opens, _, volume := rig.fb.stats()
	if openID != "alpha" || opens != 1 {
		t.Errorf("backend open = %q x%d", openID, opens)
	}
	if volume != defaultVolume {
		t.Errorf("backend volume = %d, want default %d", volume, defaultVolume)
	}

	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)

	evs := waitForEvents(t, rig.sink, 1)
	ev := evs[0]
	if ev.StationID != "alpha" || ev.Station != "Alpha FM" || ev.Title != "Song A" {
		t.Errorf("event: %+v", ev)
	}
	if ev.Text != "Now playing: Song A on Alpha FM" {
		t.Errorf("text: %q", ev.Text)
	}
	if ev.ID == "" {
		t.Error("event has no id")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)
	waitForEvents(t, rig.sink, 1)

	// The same title keeps arriving, in varying shapes.
	for _, title := range []string{"Song A", "SONG A", "  Song  A "} {
		rig.fb.setTitle(title)
		rig.ctrl.pollOnce(ctx)
	}
	settle()

	if evs := rig.sink.list(); len(evs) != 1 {
		t.Errorf("announced %d times, want 1", len(evs))
	}
}

func TestUnknownTrackFallback(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	snap := rig.ctrl.Status()
	if snap.TrackTitle != "" {
		t.Errorf("TrackTitle = %q, want empty before any reading", snap.TrackTitle)
	}
	if snap.NowPlaying != "Alpha FM - Unknown track" {
		t.Errorf("NowPlaying = %q", snap.NowPlaying)
	}

	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)

	snap = rig.ctrl.Status()
	if snap.NowPlaying != "Song A" || snap.TrackTitle != "Song A" {
		t.Errorf("after reading: %+v", snap)
	}
	if snap.LastPollAt.IsZero() {
		t.Error("LastPollAt not recorded")
	}
}

func TestModeEscalationAndReset(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	rig.fb.setTitle("Song A")
	for i := 0; i < 4; i++ {
		rig.ctrl.pollOnce(ctx)
	}
	if mode := rig.ctrl.Status().Mode; mode != ModeActive {
		t.Errorf("Mode = %v after repeated identical readings, want active", mode)
	}

	rig.fb.setTitle("Song B")
	rig.ctrl.pollOnce(ctx)
	if mode := rig.ctrl.Status().Mode; mode != ModeLazy {
		t.Errorf("Mode = %v after a change, want lazy", mode)
	}
	waitForEvents(t, rig.sink, 2)
}

func TestVolumeBounds(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	for _, v := range []int{-1, 101} {
		if _, err := rig.ctrl.SetVolume(ctx, v); !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("SetVolume(%d) = %v, want ErrInvalidVolume", v, err)
		}
	}
	if got := rig.ctrl.Status().Volume; got != defaultVolume {
		t.Errorf("volume mutated by rejected request: %d", got)
	}

	for _, v := range []int{0, 100} {
		snap, err := rig.ctrl.SetVolume(ctx, v)
		if err != nil {
			t.Errorf("SetVolume(%d): %v", v, err)
		}
		if snap.Volume != v {
			t.Errorf("SetVolume(%d) snapshot volume %d", v, snap.Volume)
		}
	}

	// Volume persists even while stopped.
	p, err := rig.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Volume != 100 {
		t.Errorf("persisted %+v, want volume 100", p)
	}

	// While playing, the level is forwarded to the backend.
	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.ctrl.SetVolume(ctx, 30); err != nil {
		t.Fatal(err)
	}
	if _, _, _, vol := rig.fb.stats(); vol != 30 {
		t.Errorf("backend volume = %d, want 30", vol)
	}
}

func TestStopDropsInflightTick(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	// Gate the backend read so the session's immediate poll is caught in
	// flight.
	gate := make(chan struct{})
	rig.fb.nowGate = gate

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	rig.fb.setTitle("Song A")

	// Stop while the poll is still blocked reading the backend.
	snap := rig.ctrl.Stop(ctx)
	if snap.State != StateStopped {
		t.Fatalf("state after stop: %v", snap.State)
	}

	close(gate)
	settle()

	if evs := rig.sink.list(); len(evs) != 0 {
		t.Errorf("announced %d time(s) after stop, want 0", len(evs))
	}
	if state := rig.ctrl.Status().State; state != StateStopped {
		t.Errorf("state = %v, want stopped", state)
	}
	if at := rig.ctrl.Status().LastPollAt; !at.IsZero() {
		t.Errorf("LastPollAt = %v after stop, want zero", at)
	}
	if _, _, closes, _ := rig.fb.stats(); closes != 1 {
		t.Errorf("backend closed %d times, want 1", closes)
	}
}

func TestChangeStationResetsSuppression(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)
	waitForEvents(t, rig.sink, 1)

	snap, err := rig.ctrl.ChangeStation(ctx, "beta")
	if err != nil {
		t.Fatalf("ChangeStation: %v", err)
	}
	if snap.State != StatePlaying || snap.StationID != "beta" {
		t.Fatalf("snapshot: %+v", snap)
	}
	if snap.TrackTitle != "" {
		t.Errorf("title survived the switch: %q", snap.TrackTitle)
	}

	// The same track plays on the new station; it must announce again.
	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)

	evs := waitForEvents(t, rig.sink, 2)
	last := evs[len(evs)-1]
	if last.StationID != "beta" || last.Title != "Song A" {
		t.Errorf("second announcement: %+v", last)
	}

	_, opens, closes, _ := rig.fb.stats()
	if opens != 2 || closes != 1 {
		t.Errorf("opens %d closes %d, want 2 and 1", opens, closes)
	}
}

func TestPlaySameStationIsNoop(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.ctrl.Play(ctx, "Alpha FM"); err != nil {
		t.Fatal(err)
	}

	if _, opens, _, _ := rig.fb.stats(); opens != 1 {
		t.Errorf("backend opened %d times, want 1", opens)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	snap := rig.ctrl.Stop(ctx)
	if snap.State != StateStopped {
		t.Errorf("state: %v", snap.State)
	}
	if _, _, closes, _ := rig.fb.stats(); closes != 0 {
		t.Errorf("backend closed %d times while already stopped", closes)
	}
}

func TestPlayUnknownStation(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	_, err := rig.ctrl.Play(context.Background(), "does not exist")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenFailureLeavesStopped(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	rig.fb.setOpenErr(errors.New("connection refused"))
	_, err := rig.ctrl.Play(ctx, "alpha")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if state := rig.ctrl.Status().State; state != StateStopped {
		t.Errorf("state = %v, want stopped", state)
	}

	// The backend recovers and a retry succeeds.
	rig.fb.setOpenErr(nil)
	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSwitchFailureLeavesStopped(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	rig.fb.setOpenErr(errors.New("connection refused"))
	_, err := rig.ctrl.ChangeStation(ctx, "beta")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}

	snap := rig.ctrl.Status()
	if snap.State != StateStopped || snap.StationID != "" {
		t.Errorf("snapshot after failed switch: %+v", snap)
	}
	if _, _, closes, _ := rig.fb.stats(); closes != 1 {
		t.Errorf("old stream closed %d times, want 1", closes)
	}
}

func TestPlayEmptyQueryFallbacks(t *testing.T) {
	// With no persisted state and no default, the first catalog entry wins.
	rig := newTestRig(t, nil, nil)
	snap, err := rig.ctrl.Play(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StationID != "alpha" {
		t.Errorf("station = %q, want first catalog entry", snap.StationID)
	}

	// A configured default outranks the catalog order.
	rig = newTestRig(t, func(cfg *Config) { cfg.DefaultStation = "beta" }, nil)
	snap, err = rig.ctrl.Play(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StationID != "beta" {
		t.Errorf("station = %q, want configured default", snap.StationID)
	}

	// Persisted state outranks both.
	proj := &projection.Projection{StationID: "alpha", Volume: 40}
	rig = newTestRig(t, func(cfg *Config) { cfg.DefaultStation = "beta" }, proj)
	snap, err = rig.ctrl.Play(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StationID != "alpha" {
		t.Errorf("station = %q, want persisted station", snap.StationID)
	}
	if snap.Volume != 40 {
		t.Errorf("volume = %d, want persisted 40", snap.Volume)
	}
}

func TestRestartDoesNotReannounce(t *testing.T) {
	proj := &projection.Projection{StationID: "alpha", LastTrackTitle: "Song A", Volume: 70}
	rig := newTestRig(t, nil, proj)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, ""); err != nil {
		t.Fatal(err)
	}

	// The track that was playing when the daemon went down is still on.
	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)
	settle()

	if evs := rig.sink.list(); len(evs) != 0 {
		t.Errorf("re-announced the persisted track %d time(s)", len(evs))
	}
	if got := rig.ctrl.Status().TrackTitle; got != "Song A" {
		t.Errorf("TrackTitle = %q, want the suppressed title for display", got)
	}

	// The next real change announces normally.
	rig.fb.setTitle("Song B")
	rig.ctrl.pollOnce(ctx)
	evs := waitForEvents(t, rig.sink, 1)
	if evs[0].Title != "Song B" {
		t.Errorf("announced %q, want Song B", evs[0].Title)
	}
}

func TestSeedDoesNotApplyToOtherStations(t *testing.T) {
	proj := &projection.Projection{StationID: "alpha", LastTrackTitle: "Song A", Volume: 70}
	rig := newTestRig(t, nil, proj)
	ctx := context.Background()

	// Tuning somewhere else first discards the seed.
	if _, err := rig.ctrl.Play(ctx, "beta"); err != nil {
		t.Fatal(err)
	}

	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)

	evs := waitForEvents(t, rig.sink, 1)
	if evs[0].StationID != "beta" || evs[0].Title != "Song A" {
		t.Errorf("event: %+v", evs[0])
	}
}

func TestPersistAcrossRestart(t *testing.T) {
	statePath := ""
	{
		rig := newTestRig(t, nil, nil)
		statePath = rig.store.Path()
		ctx := context.Background()

		if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
			t.Fatal(err)
		}
		rig.fb.setTitle("Song X")
		rig.ctrl.pollOnce(ctx)
		if _, err := rig.ctrl.SetVolume(ctx, 70); err != nil {
			t.Fatal(err)
		}
		rig.ctrl.Stop(ctx)
	}

	store, err := projection.NewStore(statePath)
	if err != nil {
		t.Fatal(err)
	}
	p, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("no projection persisted")
	}
	if p.StationID != "alpha" || p.LastTrackTitle != "Song X" || p.Volume != 70 {
		t.Errorf("persisted %+v", p)
	}

	// A second controller seeded from the file resumes the same station at
	// the same volume.
	rig2 := newTestRig(t, func(cfg *Config) { cfg.StateFile = statePath }, p)
	snap, err := rig2.ctrl.Play(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StationID != "alpha" || snap.Volume != 70 {
		t.Errorf("resumed %+v", snap)
	}
}

func TestPollErrorsAreMissedReads(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	ctx := context.Background()

	if _, err := rig.ctrl.Play(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	rig.fb.setTitle("Song A")
	rig.ctrl.pollOnce(ctx)
	waitForEvents(t, rig.sink, 1)

	// Reads fail for a while; nothing announces and nothing resets.
	rig.fb.setNowErr(errors.New("read timeout"))
	rig.ctrl.pollOnce(ctx)
	rig.ctrl.pollOnce(ctx)
	rig.fb.setNowErr(nil)

	// The same title coming back is still a duplicate.
	rig.ctrl.pollOnce(ctx)
	settle()

	if evs := rig.sink.list(); len(evs) != 1 {
		t.Errorf("announced %d times, want 1", len(evs))
	}
	if state := rig.ctrl.Status().State; state != StatePlaying {
		t.Errorf("state = %v, want playing through read errors", state)
	}
}
