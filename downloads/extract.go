package downloads

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ExtractZip extracts a ZIP archive to the destination directory.
// If stripPrefix is provided, it removes that prefix from extracted file paths.
func ExtractZip(archivePath, destDir string, stripPrefix string, progressCb ProgressCallback) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer reader.Close()

	for i, file := range reader.File {
		if progressCb != nil && i%10 == 0 {
			progressCb(Progress{
				Status:  StatusExtracting,
				Message: fmt.Sprintf("Extracting %d/%d files...", i+1, len(reader.File)),
			})
		}

		name := archiveEntryName(file.Name, stripPrefix)
		if name == "" || file.FileInfo().IsDir() {
			continue
		}

		destPath := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		if err := writeEntry(rc, destPath, file.Name); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
	}

	return nil
}

// Extract7z extracts a 7z archive to the destination directory.
// If stripPrefix is provided, it removes that prefix from extracted file paths.
func Extract7z(archivePath, destDir string, stripPrefix string, progressCb ProgressCallback) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer reader.Close()

	for i, file := range reader.File {
		if progressCb != nil && i%10 == 0 {
			progressCb(Progress{
				Status:  StatusExtracting,
				Message: fmt.Sprintf("Extracting %d/%d files...", i+1, len(reader.File)),
			})
		}

		name := archiveEntryName(file.Name, stripPrefix)
		if name == "" {
			continue
		}

		destPath := filepath.Join(destDir, name)
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		if err := writeEntry(rc, destPath, file.Name); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
	}

	return nil
}

// ExtractTarGz extracts a gzipped tar archive to the destination directory.
// If stripPrefix is provided, it removes that prefix from extracted file paths.
func ExtractTarGz(archivePath, destDir string, stripPrefix string, progressCb ProgressCallback) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open tar.gz archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}
		if progressCb != nil && count%10 == 0 {
			progressCb(Progress{
				Status:  StatusExtracting,
				Message: fmt.Sprintf("Extracting %d files...", count+1),
			})
		}
		count++

		name := archiveEntryName(hdr.Name, stripPrefix)
		if name == "" || hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		destPath := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := writeEntry(tr, destPath, hdr.Name); err != nil {
			return err
		}
	}
}

// ExtractArchive dispatches on the archive extension (.zip, .7z, .tgz or
// .tar.gz).
func ExtractArchive(archivePath, destDir string, stripPrefix string, progressCb ProgressCallback) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return ExtractZip(archivePath, destDir, stripPrefix, progressCb)
	case strings.HasSuffix(lower, ".7z"):
		return Extract7z(archivePath, destDir, stripPrefix, progressCb)
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return ExtractTarGz(archivePath, destDir, stripPrefix, progressCb)
	}
	return fmt.Errorf("unsupported archive format: %s", filepath.Ext(archivePath))
}

// archiveEntryName normalizes an entry path, applies the strip prefix and
// rejects entries that would escape the destination directory.
func archiveEntryName(name, stripPrefix string) string {
	if stripPrefix != "" && strings.HasPrefix(name, stripPrefix) {
		name = strings.TrimPrefix(name, stripPrefix)
	}
	name = filepath.ToSlash(name)
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return ""
	}
	return name
}

func writeEntry(rc io.Reader, destPath, entryName string) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", entryName, err)
	}
	return nil
}
