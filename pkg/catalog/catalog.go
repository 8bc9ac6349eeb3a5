// Package catalog holds the set of stations the daemon can tune to. Stations
// are identified by a short stable id, which is what gets persisted and what
// the command surface resolves loose user queries against.
package catalog

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/voxradio/radiod/pkg/nowplaying"
)

// ErrNotFound is returned when no station matches a lookup.
var ErrNotFound = errors.New("station not found")

// Station is one tunable entry. Entries are immutable once the catalog is
// built.
type Station struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	StreamURL   string `yaml:"url"`
	Description string `yaml:"description,omitempty"`

	// NowPlaying, when set, names a sideband endpoint to query for the
	// current track instead of trusting inline stream metadata.
	NowPlaying *nowplaying.Config `yaml:"nowplaying,omitempty"`
}

// Catalog is an ordered, validated set of stations.
type Catalog struct {
	stations []Station
}

// New validates the given stations and builds a catalog from them. Ids must
// be present and unique (case-insensitively) and every entry needs a stream
// URL.
func New(stations []Station) (*Catalog, error) {
	if len(stations) == 0 {
		return nil, errors.New("catalog has no stations")
	}

	seen := make(map[string]struct{}, len(stations))
	for _, s := range stations {
		if s.ID == "" {
			return nil, errors.Errorf("station %q has no id", s.Name)
		}
		if s.StreamURL == "" {
			return nil, errors.Errorf("station %q has no stream url", s.ID)
		}
		key := strings.ToLower(s.ID)
		if _, ok := seen[key]; ok {
			return nil, errors.Errorf("duplicate station id %q", s.ID)
		}
		seen[key] = struct{}{}
	}

	return &Catalog{stations: stations}, nil
}

// Get returns the station with exactly the given id.
func (c *Catalog) Get(id string) (*Station, error) {
	for i := range c.stations {
		if c.stations[i].ID == id {
			return &c.stations[i], nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, id)
}

// Resolve matches a loose user query against the catalog. Passes run in
// order of strictness and the first hit wins, scanning stations in catalog
// order within each pass:
//
//	1. exact id
//	2. exact name, case-insensitive
//	3. name substring, case-insensitive
//	4. id substring, case-insensitive
func (c *Catalog) Resolve(query string) (*Station, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.Wrap(ErrNotFound, "empty query")
	}

	for i := range c.stations {
		if c.stations[i].ID == q {
			return &c.stations[i], nil
		}
	}

	lq := strings.ToLower(q)
	for i := range c.stations {
		if strings.ToLower(c.stations[i].Name) == lq {
			return &c.stations[i], nil
		}
	}
	for i := range c.stations {
		if strings.Contains(strings.ToLower(c.stations[i].Name), lq) {
			return &c.stations[i], nil
		}
	}
	for i := range c.stations {
		if strings.Contains(strings.ToLower(c.stations[i].ID), lq) {
			return &c.stations[i], nil
		}
	}

	return nil, errors.Wrap(ErrNotFound, q)
}

// List returns the stations in catalog order.
func (c *Catalog) List() []*Station {
	out := make([]*Station, len(c.stations))
	for i := range c.stations {
		out[i] = &c.stations[i]
	}
	return out
}

// Default returns the built-in station set used when the config file names
// none.
func Default() []Station {
	return []Station{
		{
			ID:          "sidewinder",
			Name:        "Radio Sidewinder",
			StreamURL:   "https://radiosidewinder.out.airtime.pro/radiosidewinder_a",
			Description: "Community radio with news, chat and music around the clock.",
		},
		{
			ID:          "hutton",
			Name:        "Hutton Orbital Radio",
			StreamURL:   "https://streaming.exodusmedia.org/huttonorbital",
			Description: "Talk shows, event coverage and an eclectic music rotation.",
		},
		{
			ID:          "deepspaceone",
			Name:        "SomaFM Deep Space One",
			StreamURL:   "https://ice1.somafm.com/deepspaceone-128-mp3",
			Description: "Deep ambient electronic and experimental space music.",
			NowPlaying: &nowplaying.Config{
				URL:        "https://somafm.com/songs/deepspaceone.json",
				ArtistPath: "songs.0.artist",
				TitlePath:  "songs.0.title",
				AlbumPath:  "songs.0.album",
			},
		},
		{
			ID:          "groovesalad",
			Name:        "SomaFM Groove Salad",
			StreamURL:   "https://ice1.somafm.com/groovesalad-128-mp3",
			Description: "A nicely chilled plate of ambient and downtempo beats.",
			NowPlaying: &nowplaying.Config{
				URL:        "https://somafm.com/songs/groovesalad.json",
				ArtistPath: "songs.0.artist",
				TitlePath:  "songs.0.title",
				AlbumPath:  "songs.0.album",
			},
		},
		{
			ID:          "spacestation",
			Name:        "SomaFM Space Station Soma",
			StreamURL:   "https://ice1.somafm.com/spacestation-128-mp3",
			Description: "Tuned in, turned on spaced out electronica.",
			NowPlaying: &nowplaying.Config{
				URL:        "https://somafm.com/songs/spacestation.json",
				ArtistPath: "songs.0.artist",
				TitlePath:  "songs.0.title",
				AlbumPath:  "songs.0.album",
			},
		},
		{
			ID:          "galnet",
			Name:        "Radio GalNet",
			StreamURL:   "https://stream.laut.fm/radiogalnet",
			Description: "Galactic news bulletins and synthwave for long hauls.",
		},
	}
}
