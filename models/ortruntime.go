package models

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kirbu123/olimp/downloads"
	"github.com/kirbu123/olimp/platform"
)

// DefaultORTVersion is the ONNX Runtime release fetched when none is given.
const DefaultORTVersion = "1.21.0"

// ortDownloadURL returns the platform-specific release archive URL for the
// given ONNX Runtime version.
func ortDownloadURL(version, arch string) string {
	base := "https://github.com/microsoft/onnxruntime/releases/download/v" + version + "/"
	switch runtime.GOOS {
	case "windows":
		if arch == "arm64" {
			return base + "onnxruntime-win-arm64-" + version + ".zip"
		}
		return base + "onnxruntime-win-x64-" + version + ".zip"
	case "darwin":
		if arch == "arm64" {
			return base + "onnxruntime-osx-arm64-" + version + ".tgz"
		}
		return base + "onnxruntime-osx-x86_64-" + version + ".tgz"
	default: // linux
		if arch == "arm64" {
			return base + "onnxruntime-linux-aarch64-" + version + ".tgz"
		}
		return base + "onnxruntime-linux-x64-" + version + ".tgz"
	}
}

// isORTLibrary reports whether a file name is the runtime shared library.
// Linux archives version the file (libonnxruntime.so.1.21.0), Windows ships
// onnxruntime.dll without the lib prefix.
func isORTLibrary(name string) bool {
	ext := platform.SharedLibExtension()
	if runtime.GOOS == "windows" {
		return strings.EqualFold(name, "onnxruntime"+ext)
	}
	return strings.HasPrefix(name, "libonnxruntime"+ext) ||
		(strings.HasPrefix(name, "libonnxruntime.") && strings.Contains(name, ext))
}

// EnsureORTRuntime makes the ONNX Runtime shared library available under
// cacheDir and returns its path. Already-installed versions are reused; a
// missing one is downloaded from the upstream release archive and the library
// is copied out of it.
func EnsureORTRuntime(ctx context.Context, cacheDir, version string, progress downloads.ByteProgressCallback) (string, error) {
	if cacheDir == "" {
		return "", fmt.Errorf("models: cache dir required to install onnxruntime")
	}
	if version == "" {
		version = DefaultORTVersion
	}
	libDir := filepath.Join(cacheDir, "onnxruntime", version)
	libPath := filepath.Join(libDir, platform.ORTLibraryName())
	if _, err := os.Stat(libPath); err == nil {
		return libPath, nil
	}
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return "", err
	}

	url := ortDownloadURL(version, runtime.GOARCH)
	archivePath := filepath.Join(libDir, filepath.Base(url))
	if err := downloads.DownloadWithRetry(ctx, archivePath, url, progress); err != nil {
		return "", fmt.Errorf("models: fetch onnxruntime %s: %w", version, err)
	}
	defer os.Remove(archivePath)

	extractDir := filepath.Join(libDir, "extract")
	if err := downloads.ExtractArchive(archivePath, extractDir, "", nil); err != nil {
		return "", fmt.Errorf("models: extract onnxruntime %s: %w", version, err)
	}
	defer os.RemoveAll(extractDir)

	found, err := findORTLibrary(extractDir)
	if err != nil {
		return "", err
	}
	if err := copyFile(found, libPath); err != nil {
		return "", err
	}
	return libPath, nil
}

func findORTLibrary(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isORTLibrary(d.Name()) {
			return nil
		}
		// prefer the unversioned name but accept any match
		if found == "" || d.Name() == platform.ORTLibraryName() {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("models: shared library not found in onnxruntime archive")
	}
	return found, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
