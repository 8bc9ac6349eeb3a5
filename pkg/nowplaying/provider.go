// Package nowplaying fetches current-track information from sideband HTTP
// endpoints for stations whose inline stream metadata is unreliable or
// absent. Results are cached briefly so an aggressive poll interval does not
// hammer the remote API.
package nowplaying

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultTTL     = 20 * time.Second
	defaultTimeout = 5 * time.Second

	// Some station CDNs refuse requests without a browser-like agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 radiod/1.0"

	maxBodyBytes = 64 * 1024
)

// Config describes one sideband now-playing source. Field paths use dotted
// notation with numeric segments indexing into arrays, e.g. "songs.0.artist".
type Config struct {
	URL               string        `yaml:"url"`
	ArtistPath        string        `yaml:"artist-path,omitempty"`
	TitlePath         string        `yaml:"title-path,omitempty"`
	AlbumPath         string        `yaml:"album-path,omitempty"`
	Format            string        `yaml:"format,omitempty"`
	TTL               time.Duration `yaml:"ttl,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	StripSingleQuotes bool          `yaml:"strip-single-quotes,omitempty"`
}

// Provider fetches a best-effort current-track string. An empty string with a
// nil error means the source had nothing to report.
type Provider interface {
	Fetch(ctx context.Context) (string, error)
}

// HTTPProvider reads a JSON endpoint and renders a track string from it.
type HTTPProvider struct {
	cfg    Config
	client *http.Client

	mtx      sync.Mutex
	cached   string
	cachedAt time.Time
}

// NewHTTP creates a provider for the given source. Zero durations take the
// package defaults.
func NewHTTP(cfg Config) *HTTPProvider {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch returns the current track string, consulting the cache first. Empty
// results are cached too, so a dead endpoint is not retried on every poll.
func (p *HTTPProvider) Fetch(ctx context.Context) (string, error) {
	p.mtx.Lock()
	if !p.cachedAt.IsZero() && time.Since(p.cachedAt) < p.cfg.TTL {
		v := p.cached
		p.mtx.Unlock()
		return v, nil
	}
	p.mtx.Unlock()

	title, err := p.fetch(ctx)

	p.mtx.Lock()
	p.cached = title
	p.cachedAt = time.Now()
	p.mtx.Unlock()

	return title, err
}

func (p *HTTPProvider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, p.cfg.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	artist := lookupPath(data, p.cfg.ArtistPath)
	title := lookupPath(data, p.cfg.TitlePath)
	album := lookupPath(data, p.cfg.AlbumPath)

	out := p.render(artist, title, album)
	if p.cfg.StripSingleQuotes {
		out = strings.ReplaceAll(out, "'", "")
	}

	// Collapse runs of whitespace; sources pad fields inconsistently.
	return strings.Join(strings.Fields(out), " "), nil
}

// render builds the track string. With no explicit format the conventional
// "Artist - Title [Album]" form is used, degrading to the parts available.
func (p *HTTPProvider) render(artist, title, album string) string {
	if p.cfg.Format != "" {
		out := p.cfg.Format
		out = strings.ReplaceAll(out, "{artist}", artist)
		out = strings.ReplaceAll(out, "{title}", title)
		out = strings.ReplaceAll(out, "{album}", album)
		return out
	}

	switch {
	case artist != "" && title != "" && album != "":
		return fmt.Sprintf("%s - %s [%s]", artist, title, album)
	case artist != "" && title != "":
		return fmt.Sprintf("%s - %s", artist, title)
	case title != "":
		return title
	default:
		return ""
	}
}

// lookupPath walks a decoded JSON value along a dotted path and returns the
// string found there, or "" when the path is empty, missing, or non-string.
func lookupPath(v interface{}, path string) string {
	if path == "" {
		return ""
	}

	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return ""
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return ""
			}
			cur = node[i]
		default:
			return ""
		}
	}

	s, ok := cur.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
