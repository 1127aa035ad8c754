package database

import "time"

// Resource is one indexed path as stored in the resources table.
type Resource struct {
	Path       string         `json:"path"`
	ParentPath string         `json:"parentPath"`
	Root       string         `json:"root"`
	Kind       string         `json:"kind"`
	Generation uint64         `json:"generation"`
	Size       int64          `json:"size"`
	ModTime    time.Time      `json:"modTime"`
	Data       map[string]any `json:"data,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// IndexStats summarizes the resources table.
type IndexStats struct {
	Files       int `json:"files"`
	Directories int `json:"directories"`
}

// Total returns the number of indexed resources.
func (s IndexStats) Total() int {
	return s.Files + s.Directories
}
