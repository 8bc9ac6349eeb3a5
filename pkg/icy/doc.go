// Package icy reads ICY/Shoutcast streams for their in-band metadata.
//
// A Stream keeps the HTTP connection open and drains audio bytes in the
// background, retaining only the most recent StreamTitle and a read-liveness
// timestamp. Playlist URLs (.pls, .m3u) are resolved to the stream URL they
// point at before connecting.
package icy
