// Package platform provides cross-platform utilities for directory paths and
// shared-library naming.
package platform

import (
	"os"
	"path/filepath"
)

// AppName is the application name used for directory naming
const AppName = "olimp"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Olimp"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Olimp
// Linux: ~/.local/share/olimp
// Falls back to ~/.olimp if XDG is not available.
func GetDataDir() string {
	return getDataDir()
}

// GetTempDir returns the temp directory for in-flight archive extraction.
// Windows: %ProgramData%\Olimp\tmp
// Linux: /tmp/olimp or XDG_RUNTIME_DIR/olimp
func GetTempDir() string {
	return getTempDir()
}

// GetCacheDir returns the cache directory for downloaded model weights.
// Windows: %APPDATA%\Olimp
// Linux: ~/.cache/olimp
func GetCacheDir() string {
	return getCacheDir()
}

// SharedLibExtension returns the shared library extension for the current
// platform, used to locate the ONNX Runtime library.
// Windows: ".dll"
// Linux: ".so"
func SharedLibExtension() string {
	return sharedLibExtension()
}

// ORTLibraryName is the default ONNX Runtime shared library file name for the
// current platform.
func ORTLibraryName() string {
	return "libonnxruntime" + sharedLibExtension()
}

// UserHomeDir returns the user's home directory with proper fallbacks.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// JoinPath is a convenience wrapper around filepath.Join
func JoinPath(elem ...string) string {
	return filepath.Join(elem...)
}
