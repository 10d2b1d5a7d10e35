// Package audio reads WAV tracks, aligns recorded pseudo-noise audio
// against its mezzanine reference with FFT cross-correlation, and measures
// camera AV-sync offsets from flash-and-beep calibration recordings.
package audio
