package radio

import "github.com/pkg/errors"

var (
	// ErrBackendUnavailable means the media backend could not open or keep
	// the requested stream.
	ErrBackendUnavailable = errors.New("stream backend unavailable")

	// ErrInvalidVolume means a volume outside the 0 to 100 range was
	// requested.
	ErrInvalidVolume = errors.New("volume out of range")
)
