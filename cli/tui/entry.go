package tui

import (
	"fmt"
	"time"

	"github.com/mwantia/isopod/data"
)

// Entry is one row in the browser's file list.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

func entryFromNode(path string, node *data.VNode) *Entry {
	return &Entry{
		Name:    node.Name,
		Path:    path,
		Size:    node.Size,
		IsDir:   node.IsDir(),
		ModTime: node.ModifyTime,
	}
}

// DisplayName returns the name with a trailing slash for directories.
func (e *Entry) DisplayName() string {
	if e.IsDir {
		return e.Name + "/"
	}
	return e.Name
}

// DisplaySize returns a human-readable size.
func (e *Entry) DisplaySize() string {
	if e.IsDir {
		return "<DIR>"
	}

	const unit = 1024
	if e.Size < unit {
		return fmt.Sprintf("%d B", e.Size)
	}

	div, exp := int64(unit), 0
	for n := e.Size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(e.Size)/float64(div), "KMGTPE"[exp])
}

// DisplayModTime returns the formatted modification time.
func (e *Entry) DisplayModTime() string {
	if e.ModTime.IsZero() {
		return "-"
	}
	return e.ModTime.Format("2006-01-02 15:04:05")
}
