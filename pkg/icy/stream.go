package icy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	userAgent = "iTunes/12.9.2 (Macintosh; OS X 10.14.3) AppleWebKit/606.4.5"

	defaultStallAfter = 15 * time.Second
	drainBufSize      = 8 * 1024
)

// Health describes the liveness of an open stream.
type Health int

const (
	// HealthOk means bytes arrived recently.
	HealthOk Health = iota
	// HealthStalled means the connection is up but no bytes have arrived
	// within the stall window.
	HealthStalled
	// HealthError means the background reader exited with an error.
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

// Stream is an open ICY connection. Audio bytes are drained and discarded in
// the background; only the in-band metadata and read liveness are retained.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// The description of the stream
	Description string

	// Homepage of the server
	URL string

	// Bitrate of the server
	Bitrate int

	// StallAfter is how long reads may be absent before Health reports
	// HealthStalled.
	StallAfter time.Duration

	// Amount of audio bytes between metadata blocks. Zero when the server
	// sends no inline metadata.
	metaint int

	// The underlying data stream
	rc io.ReadCloser

	// Aborts the in-flight request; unblocks the drain goroutine.
	cancel context.CancelFunc

	mtx      sync.Mutex
	metadata *Metadata
	lastRead time.Time
	readErr  error
	closed   bool

	done chan struct{}
}

// Open establishes a connection to a remote server and starts draining it.
// Playlist URLs (.pls, .m3u) are resolved to stream URLs first. ctx bounds
// connection establishment only; the stream itself stays open until Close.
func Open(ctx context.Context, rawurl string) (*Stream, error) {
	streamURL, err := resolveStreamURL(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stream URL: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)
	req.Header.Add("icy-metadata", "1")

	// Timeouts bound establishing the connection only. The stream is read
	// indefinitely once headers arrive.
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	client := &http.Client{Transport: &http.Transport{
		Dial:                  dialer.Dial,
		ResponseHeaderTimeout: 10 * time.Second,
	}}

	// The request context must outlive ctx, which is typically a short
	// command deadline. Relay ctx cancellation only until headers arrive,
	// then leave cancellation to Close.
	reqCtx, cancel := context.WithCancel(context.Background())
	headersDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-headersDone:
		}
	}()

	resp, err := client.Do(req.WithContext(reqCtx))
	close(headersDone)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, streamURL)
	}

	var metaint int
	if raw := resp.Header.Get("icy-metaint"); raw != "" {
		metaint, err = strconv.Atoi(raw)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("cannot parse metaint: %v", err)
		}
	}
	bitrate, _ := strconv.Atoi(resp.Header.Get("icy-br"))

	s := &Stream{
		Name:        resp.Header.Get("icy-name"),
		Genre:       resp.Header.Get("icy-genre"),
		Description: resp.Header.Get("icy-description"),
		URL:         streamURL,
		Bitrate:     bitrate,
		StallAfter:  defaultStallAfter,
		metaint:     metaint,
		rc:          resp.Body,
		cancel:      cancel,
		lastRead:    time.Now(),
		done:        make(chan struct{}),
	}

	go s.drain()

	return s, nil
}

// NowPlaying returns the most recent StreamTitle, or "" when the server has
// not sent one yet.
func (s *Stream) NowPlaying() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.metadata == nil {
		return ""
	}
	return s.metadata.StreamTitle
}

// Health reports reader liveness.
func (s *Stream) Health() Health {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.readErr != nil {
		return HealthError
	}
	if s.StallAfter > 0 && time.Since(s.lastRead) > s.StallAfter {
		return HealthStalled
	}
	return HealthOk
}

// Close aborts the connection and waits for the background reader to exit.
// Safe to call more than once.
func (s *Stream) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil
	}
	s.closed = true
	s.mtx.Unlock()

	s.cancel()
	err := s.rc.Close()
	<-s.done
	return err
}

// drain consumes the stream, discarding audio and capturing metadata blocks
// at metaint boundaries.
func (s *Stream) drain() {
	defer close(s.done)

	buf := make([]byte, drainBufSize)
	for {
		if s.metaint <= 0 {
			// No inline metadata; consume for liveness only.
			n, err := s.rc.Read(buf)
			if n > 0 {
				s.touch()
			}
			if err != nil {
				s.fail(err)
				return
			}
			continue
		}

		if err := s.skipAudio(buf, s.metaint); err != nil {
			s.fail(err)
			return
		}
		if err := s.readMetadataBlock(); err != nil {
			s.fail(err)
			return
		}
	}
}

// skipAudio discards exactly n audio bytes.
func (s *Stream) skipAudio(buf []byte, n int) error {
	for n > 0 {
		chunk := len(buf)
		if n < chunk {
			chunk = n
		}
		read, err := s.rc.Read(buf[:chunk])
		if read > 0 {
			s.touch()
			n -= read
		}
		if err != nil {
			if err == io.EOF && n == 0 {
				return nil
			}
			return err
		}
	}
	return nil
}

// readMetadataBlock reads one length-prefixed metadata block. The length
// byte counts 16-byte units; zero means no update.
func (s *Stream) readMetadataBlock() error {
	var lenByte [1]byte
	if _, err := io.ReadFull(s.rc, lenByte[:]); err != nil {
		return err
	}
	s.touch()

	blockLen := int(lenByte[0]) * 16
	if blockLen == 0 {
		return nil
	}

	block := make([]byte, blockLen)
	if _, err := io.ReadFull(s.rc, block); err != nil {
		return err
	}
	s.touch()

	m := NewMetadata(block)
	s.mtx.Lock()
	if !m.Equals(s.metadata) {
		s.metadata = m
	}
	s.mtx.Unlock()
	return nil
}

func (s *Stream) touch() {
	s.mtx.Lock()
	s.lastRead = time.Now()
	s.mtx.Unlock()
}

// fail records the reader's exit error unless the stream was closed on
// purpose.
func (s *Stream) fail(err error) {
	s.mtx.Lock()
	if !s.closed && s.readErr == nil {
		s.readErr = err
	}
	s.mtx.Unlock()
}
