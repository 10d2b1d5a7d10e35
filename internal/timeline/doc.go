// Package timeline assembles per-frame QR detections into per-test
// timelines, filters duplicate mezzanine sightings, and enforces the
// session-level timeouts that abort a broken recording early.
package timeline
