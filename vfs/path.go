package vfs

import (
	"path"
	"strings"
)

// cleanPath normalizes a path to a canonical absolute form without a
// trailing slash ("/" stays "/").
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return path.Clean(p)
}

// joinPath joins a mount path with a relative entry path.
func joinPath(mount, rel string) string {
	if rel == "" {
		return mount
	}

	return path.Join(mount, rel)
}
