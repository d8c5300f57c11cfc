package remotestore

import (
	"fmt"
	"strings"
)

// PairingsRoot is the top-level node holding every pairing.
const PairingsRoot = "pairings"

// Child node names below a pairing.
const (
	alertsNode  = "alerts"
	devicesNode = "devices"
)

// Join builds a path from parts, dropping empty parts and stray slashes.
func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		for s := range strings.SplitSeq(p, "/") {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	return strings.Join(segs, "/")
}

// Split returns the segments of path.
func Split(path string) []string {
	if path = Join(path); path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Parent returns the parent path and the last segment of path.
func Parent(path string) (parent, key string) {
	path = Join(path)
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// IsChildOf reports whether path is a direct child of parent.
func IsChildOf(path, parent string) bool {
	p, _ := Parent(path)
	return p == Join(parent)
}

// IsWithin reports whether path equals root or lies below it.
func IsWithin(path, root string) bool {
	path, root = Join(path), Join(root)
	return path == root || strings.HasPrefix(path, root+"/")
}

// ValidatePath rejects empty paths and segments that cannot be stored by
// every backend (MQTT wildcards, relative segments).
func ValidatePath(path string) error {
	if Join(path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, seg := range Split(path) {
		if seg == "." || seg == ".." || strings.ContainsAny(seg, "#+\x00") {
			return fmt.Errorf("%w: bad segment %q in %q", ErrInvalidPath, seg, path)
		}
	}
	return nil
}

func PairingPath(code string) string      { return Join(PairingsRoot, code) }
func AlertsPath(code string) string       { return Join(PairingsRoot, code, alertsNode) }
func AlertPath(code, id string) string    { return Join(PairingsRoot, code, alertsNode, id) }
func DevicesPath(code string) string      { return Join(PairingsRoot, code, devicesNode) }
func DevicePath(code, role string) string { return Join(PairingsRoot, code, devicesNode, role) }
