package icy

import (
	"bytes"
	"regexp"
)

var streamTitleRe = regexp.MustCompile(`StreamTitle='(.*?)';`)

// Metadata is the parsed content of one in-band metadata block.
type Metadata struct {
	// StreamTitle is the track or programme title the server is displaying.
	StreamTitle string
}

// NewMetadata parses a raw metadata block. Blocks are null-padded to a
// multiple of 16 bytes on the wire.
func NewMetadata(b []byte) *Metadata {
	m := &Metadata{}
	b = bytes.Trim(b, "\x00")
	if match := streamTitleRe.FindSubmatch(b); match != nil {
		m.StreamTitle = string(match[1])
	}
	return m
}

// Equals reports whether both blocks carry the same title. A nil other never
// matches, so the first block after connecting always registers as a change.
func (m *Metadata) Equals(other *Metadata) bool {
	if other == nil {
		return false
	}
	return m.StreamTitle == other.StreamTitle
}
