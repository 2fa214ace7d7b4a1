// Package kwd implements a keyword detector driven by an external engine.
//
// The engine runs in a separate process and writes a short frame to a named
// pipe each time it spots the keyword. Detector drains the shared audio
// stream so its reader position tracks the live audio, polls the pipe with
// FIONREAD, and reports each detection to KeyWordObserver implementations
// with the current stream index. StateObserver implementations see ACTIVE
// when the detection loop starts and, optionally, INACTIVE when it stops.
package kwd
