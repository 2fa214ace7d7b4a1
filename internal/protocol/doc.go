// Package protocol implements the binary framing of PCM audio sent to the
// ingest server over UDP: an 8-byte big-endian header followed by
// little-endian 16-bit samples.
package protocol
