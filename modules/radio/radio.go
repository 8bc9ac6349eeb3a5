package radio

import (
	"context"
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxradio/radiod/pkg/catalog"
	"github.com/voxradio/radiod/pkg/projection"
)

// Radio is the playback monitoring and announcement engine, packaged as a
// service.
type Radio struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	catalog *catalog.Catalog
	store   *projection.Store
	proj    *projection.Projection
	backend Backend
	ann     *Announcer
	ctrl    *Controller
}

var module = "radio"

// New wires the engine together and registers its HTTP surface on router.
// An unknown backend kind is the one configuration error that refuses to
// start the daemon.
func New(cfg Config, logger slog.Logger, router *mux.Router, reg prometheus.Registerer) (*Radio, error) {
	r := &Radio{
		cfg:    &cfg,
		logger: logger.With("module", module),
	}

	stations := cfg.Stations
	if len(stations) == 0 {
		stations = catalog.Default()
	}
	cat, err := catalog.New(stations)
	if err != nil {
		return nil, errors.Wrap(err, "build station catalog")
	}
	r.catalog = cat

	store, err := projection.NewStore(cfg.StateFile)
	if err != nil {
		return nil, errors.Wrap(err, "build state store")
	}
	r.store = store

	proj, err := store.Load()
	if err != nil {
		// A damaged snapshot should not keep the daemon down; start from
		// defaults and overwrite it on the next persist.
		r.logger.Warn("error loading persisted state, starting fresh", "err", err)
		proj = nil
	}
	r.proj = proj

	switch cfg.Backend {
	case "", "icy":
		r.backend = NewStreamBackend(r.logger)
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}

	m := newMetrics(reg)

	sinks := []Sink{NewLogSink(r.logger)}
	if cfg.Announce.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.Announce.WebhookURL))
	}
	r.ann = NewAnnouncer(cfg.Announce, r.logger, m, sinks...)

	r.ctrl = NewController(r.cfg, r.logger, cat, r.backend, store, r.ann, m, proj)

	if router != nil {
		newHandlers(r.ctrl, r.logger).register(router)
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

// Controller exposes the playback controller for other modules.
func (r *Radio) Controller() *Controller {
	return r.ctrl
}

func (r *Radio) starting(ctx context.Context) error {
	r.logger.Info("starting",
		"stations", len(r.catalog.List()),
		"state_file", r.store.Path(),
	)
	return nil
}

func (r *Radio) running(ctx context.Context) error {
	if r.cfg.ResumeOnStart && r.proj != nil && r.proj.StationID != "" {
		if _, err := r.ctrl.Play(ctx, ""); err != nil {
			r.logger.Warn("error resuming persisted station", "station", r.proj.StationID, "err", err)
		}
	}

	<-ctx.Done()
	return nil
}

func (r *Radio) stopping(_ error) error {
	r.logger.Info("stopping")
	r.ctrl.Shutdown()
	r.ann.Drain()
	return nil
}
