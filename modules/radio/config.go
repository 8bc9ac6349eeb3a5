package radio

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/voxradio/radiod/pkg/catalog"
)

const (
	defaultLazyPollInterval   = 30 * time.Second
	defaultActivePollInterval = 5 * time.Second
	defaultRepeatThreshold    = 2
	defaultBackendTimeout     = 5 * time.Second
	defaultAnnounceTimeout    = 5 * time.Second
	defaultVolume             = 50
)

type Config struct {
	Backend        string            `yaml:"backend,omitempty"`
	Stations       []catalog.Station `yaml:"stations,omitempty"` // replaces the built-in catalog when set
	DefaultStation string            `yaml:"default-station,omitempty"`
	DefaultVolume  int               `yaml:"default-volume,omitempty"`
	StateFile      string            `yaml:"state-file,omitempty"`
	ResumeOnStart  bool              `yaml:"resume-on-start,omitempty"`

	LazyPollInterval   time.Duration `yaml:"lazy-poll-interval,omitempty"`
	ActivePollInterval time.Duration `yaml:"active-poll-interval,omitempty"`
	RepeatThreshold    int           `yaml:"repeat-threshold,omitempty"`
	BackendTimeout     time.Duration `yaml:"backend-timeout,omitempty"`

	Announce AnnounceConfig `yaml:"announce,omitempty"`
}

type AnnounceConfig struct {
	Style      string        `yaml:"style,omitempty"`
	Template   string        `yaml:"template,omitempty"`
	WebhookURL string        `yaml:"webhook-url,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, util.PrefixConfig(prefix, "backend"), "icy", "The media backend used to play and monitor streams")
	f.StringVar(&cfg.DefaultStation, util.PrefixConfig(prefix, "default-station"), "", "Station used when a play request names none and no state was persisted")
	f.IntVar(&cfg.DefaultVolume, util.PrefixConfig(prefix, "default-volume"), defaultVolume, "Playback volume (0-100) used before any volume was persisted")
	f.StringVar(&cfg.StateFile, util.PrefixConfig(prefix, "state-file"), "", "Path of the persisted playback state. Empty selects a per-user default")
	f.BoolVar(&cfg.ResumeOnStart, util.PrefixConfig(prefix, "resume-on-start"), false, "Resume the last persisted station when the daemon starts")

	f.DurationVar(&cfg.LazyPollInterval, util.PrefixConfig(prefix, "lazy-poll-interval"), defaultLazyPollInterval, "Metadata poll interval while the current track looks stable")
	f.DurationVar(&cfg.ActivePollInterval, util.PrefixConfig(prefix, "active-poll-interval"), defaultActivePollInterval, "Metadata poll interval while a track boundary is expected")
	f.IntVar(&cfg.RepeatThreshold, util.PrefixConfig(prefix, "repeat-threshold"), defaultRepeatThreshold, "Consecutive identical readings before polling speeds up")
	f.DurationVar(&cfg.BackendTimeout, util.PrefixConfig(prefix, "backend-timeout"), defaultBackendTimeout, "Time bound on a single backend operation")

	cfg.Announce.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "announce"), f)
}

func (cfg *AnnounceConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Style, util.PrefixConfig(prefix, "style"), "standard", "Announcement phrasing: standard, dj, or custom")
	f.StringVar(&cfg.Template, util.PrefixConfig(prefix, "template"), "", "Template for style custom, with {track} and {station} placeholders")
	f.StringVar(&cfg.WebhookURL, util.PrefixConfig(prefix, "webhook-url"), "", "Optional URL announcements are POSTed to as JSON")
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), defaultAnnounceTimeout, "Time bound on delivering one announcement")
}
