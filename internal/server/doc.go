// Package server implements UDP audio ingest and the HTTP API.
//
// UDPServer receives framed PCM packets, drops late or duplicate sequence
// numbers, counts gaps as loss and writes samples in order into the shared
// audio stream. HTTPServer exposes health, detector, statistics and
// configuration endpoints, Prometheus metrics and a WebSocket event feed.
package server
