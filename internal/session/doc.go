// Package session orchestrates one observation run end to end: recording
// frames are decoded and scanned for QR codes by a worker pool, assembled
// into per-test timelines, evaluated against the expected playback, and
// the verdicts reported to the test runner.
package session
