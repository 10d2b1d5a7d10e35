package frames

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".ts":   true,
	".m4v":  true,
	".webm": true,
}

// ListRecordings resolves the input path to an ordered list of recording
// files. A single file is returned as-is. A directory is scanned for video
// files and ordered by sortBy, "filename" or "timestamp" (modification
// time). A session recorded across multiple files must be ordered the way
// the camera wrote them, which for most cameras is modification time.
func ListRecordings(input, sortBy string) ([]string, error) {
	fi, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("cannot access input %s: %w", input, err)
	}

	if !fi.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %s: %w", input, err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, candidate{
			path:    filepath.Join(input, e.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no recording files found in %s", input)
	}

	if sortBy == "timestamp" {
		sort.Slice(files, func(i, j int) bool { return files[i].modTime < files[j].modTime })
	} else {
		sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
