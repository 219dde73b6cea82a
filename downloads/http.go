// Package downloads fetches dataset archives and model weights over HTTP
// with resume, retry and progress tracking, and extracts zip, 7z and tar.gz
// archives.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the delay between retry attempts.
	DefaultRetryDelay = 5 * time.Second
	// DefaultBufferSize is the buffer size for file downloads.
	DefaultBufferSize = 32 * 1024 // 32KB
)

// No timeout: dataset archives run to several GB.
var httpClient = &http.Client{}

// DownloadFile downloads a URL into destPath, resuming a partial file via an
// HTTP Range request when the server supports it. Progress is reported as
// (downloaded, total) byte counts; total is -1 when the server does not send
// a length.
func DownloadFile(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	var existingSize int64
	if stat, err := os.Stat(destPath); err == nil {
		existingSize = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	resuming := false
	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range header; start over.
		existingSize = 0
	case http.StatusPartialContent:
		resuming = true
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 && resuming {
		totalSize += existingSize
	}

	out, err := openDestination(destPath, resuming)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := copyWithProgress(ctx, out, resp.Body, existingSize, totalSize, progressCb); err != nil {
		return err
	}
	return nil
}

// openDestination opens destPath for append when resuming, truncating
// otherwise.
func openDestination(destPath string, resuming bool) (*os.File, error) {
	var out *os.File
	var err error
	if resuming {
		out, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		out, err = os.Create(destPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return out, nil
}

// copyWithProgress streams body into out, reporting progress at most every
// 100ms plus once at the end.
func copyWithProgress(ctx context.Context, out *os.File, body io.Reader, downloaded, totalSize int64, progressCb ByteProgressCallback) error {
	buffer := make([]byte, DefaultBufferSize)
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body.Read(buffer)
		if n > 0 {
			if _, writeErr := out.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file: %w", writeErr)
			}
			downloaded += int64(n)
			if progressCb != nil && time.Since(lastReport) >= 100*time.Millisecond {
				progressCb(downloaded, totalSize)
				lastReport = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
	}

	if progressCb != nil {
		progressCb(downloaded, totalSize)
	}
	return nil
}

// DownloadWithRetry downloads a file with automatic retry on failure. A
// partially written file survives across attempts, so a retried download
// resumes where the failed one stopped.
func DownloadWithRetry(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	var lastErr error
	for attempt := 1; attempt <= DefaultRetryAttempts; attempt++ {
		lastErr = DownloadFile(ctx, destPath, url, progressCb)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < DefaultRetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DefaultRetryDelay):
			}
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", DefaultRetryAttempts, lastErr)
}

// FormatBytes formats bytes as human-readable size.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed formats bytes per second as human-readable speed.
func FormatSpeed(bytesPerSec int64) string {
	return FormatBytes(bytesPerSec) + "/s"
}
