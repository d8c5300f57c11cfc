package conf

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPaths lists the directories searched for config.yaml, most
// specific first: the working directory, the user config directory and, on
// unix, /etc/pairwatch.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "pairwatch"))
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/pairwatch")
	}
	return paths
}
