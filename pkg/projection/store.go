// Package projection persists the small durable slice of playback state so a
// restarted daemon can resume where it left off. The snapshot is written
// atomically; a crash mid-save leaves the previous file intact.
package projection

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Projection is the durable slice of playback state. Everything else the
// daemon tracks is rebuilt from live polling after a restart.
type Projection struct {
	StationID      string `json:"station_id"`
	LastTrackTitle string `json:"last_track_title"`
	Volume         int    `json:"volume"`
}

// Store reads and writes the snapshot file.
type Store struct {
	path string
}

// NewStore creates a store writing to the given path. An empty path selects
// the per-user default under the OS config directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve user config dir")
		}
		path = filepath.Join(dir, "radiod", "state.json")
	}
	return &Store{path: path}, nil
}

// Path returns the file the store commits to.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is not an error; it returns
// (nil, nil) and the caller falls back to defaults.
func (s *Store) Load() (*Projection, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read state file")
	}

	var p Projection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "parse state file")
	}
	return &p, nil
}

// Save commits the snapshot atomically: write a temp file in the target
// directory, then rename it over the old snapshot.
func (s *Store) Save(p *Projection) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp state file")
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temp state file")
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "chmod temp state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temp state file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "commit state file")
	}
	return nil
}
