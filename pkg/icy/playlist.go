package icy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxPlaylistBytes = 256 * 1024

// parsePLS returns the first File entry of a PLS playlist.
func parsePLS(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if u := strings.TrimSpace(parts[1]); u != "" {
				return u, nil
			}
		}
	}
	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U returns the first URL entry of an M3U playlist.
func parseM3U(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	return "", fmt.Errorf("no stream URL found in M3U playlist")
}

// resolveStreamURL fetches rawurl and, when it turns out to be a .pls or .m3u
// playlist, returns the stream URL it points at. URLs that already serve a
// stream are returned unchanged.
func resolveStreamURL(ctx context.Context, rawurl string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	client := &http.Client{
		Transport: &http.Transport{Dial: dialer.Dial},
		Timeout:   10 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	plsHint := strings.Contains(ct, "scpls") || strings.Contains(ct, "pls+xml") || hasPathSuffix(rawurl, ".pls")
	m3uHint := strings.Contains(ct, "mpegurl") || hasPathSuffix(rawurl, ".m3u") || hasPathSuffix(rawurl, ".m3u8")

	// Anything already serving audio is a stream, not a playlist. Servers
	// announce themselves with icy-* headers even before metadata is
	// requested.
	if !plsHint && !m3uHint {
		if resp.Header.Get("icy-metaint") != "" || resp.Header.Get("icy-name") != "" ||
			strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "application/ogg") {
			return rawurl, nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(body)

	switch {
	case plsHint || strings.Contains(content, "[playlist]") || strings.Contains(content, "File1="):
		return parsePLS(content)
	case m3uHint || strings.Contains(content, "#EXTM3U") ||
		strings.HasPrefix(strings.TrimSpace(content), "http://") ||
		strings.HasPrefix(strings.TrimSpace(content), "https://"):
		return parseM3U(content)
	}

	return "", fmt.Errorf("URL does not appear to be a stream or playlist (Content-Type: %s)", ct)
}

func hasPathSuffix(rawurl, suffix string) bool {
	u, err := url.Parse(rawurl)
	if err != nil {
		return strings.HasSuffix(rawurl, suffix)
	}
	return strings.HasSuffix(u.Path, suffix)
}
