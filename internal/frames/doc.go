// Package frames turns camera recordings into a continuous sequence of
// grayscale frames using ffmpeg, and extracts audio tracks for the audio
// observations. Recordings split across multiple files are stitched into a
// single frame index space.
package frames
