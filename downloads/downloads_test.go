package downloads

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestArchiveEntryName(t *testing.T) {
	cases := []struct {
		name, strip, want string
	}{
		{"Images/a.png", "", "Images/a.png"},
		{"bundle/Images/a.png", "bundle/", "Images/a.png"},
		{"../escape.txt", "", ""},
		{"a/../../escape.txt", "", ""},
		{"/abs/path.txt", "", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		if got := archiveEntryName(c.name, c.strip); got != c.want {
			t.Errorf("archiveEntryName(%q, %q) = %q; want %q", c.name, c.strip, got, c.want)
		}
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "data.zip")
	writeZip(t, archive, map[string]string{
		"Images/a.txt":  "hello",
		"../escape.txt": "nope",
	})

	dest := filepath.Join(dir, "out")
	if err := ExtractZip(archive, dest, "", nil); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "Images", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("extracted content = %q; want %q", data, "hello")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry escaped the destination directory")
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "data.tgz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "runtime bits"
	if err := tw.WriteHeader(&tar.Header{
		Name:     "onnxruntime-linux-x64/lib/libonnxruntime.so",
		Mode:     0644,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "out")
	if err := ExtractArchive(archive, dest, "onnxruntime-linux-x64/", nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "lib", "libonnxruntime.so"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("extracted content = %q; want %q", data, body)
	}
}

func TestExtractArchiveUnsupported(t *testing.T) {
	if err := ExtractArchive("data.rar", t.TempDir(), "", nil); err == nil {
		t.Error("unsupported extension did not fail")
	}
}

func TestDownloadFile(t *testing.T) {
	payload := bytes.Repeat([]byte("abc123"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	var reported int64
	err := DownloadFile(context.Background(), dest, srv.URL, func(done, total int64) {
		reported = done
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("downloaded %d bytes; want %d", len(got), len(payload))
	}
	if reported != int64(len(payload)) {
		t.Errorf("final progress = %d; want %d", reported, len(payload))
	}
}

func TestDownloadFileBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := DownloadFile(context.Background(), dest, srv.URL, nil); err == nil {
		t.Error("404 response did not fail")
	}
}

func TestManagerFetchAll(t *testing.T) {
	m := NewManager()
	m.Parallelism = 2

	var calls int32
	var updates int32
	m.SetListener(func(OverallProgress) {
		atomic.AddInt32(&updates, 1)
	})

	var jobs []ArchiveDownload
	for i := 0; i < 3; i++ {
		jobs = append(jobs, ArchiveDownload{
			ID:   fmt.Sprintf("job-%d", i),
			Name: fmt.Sprintf("archive-%d.zip", i),
			DownloadFn: func(ctx context.Context, cb ProgressCallback) error {
				atomic.AddInt32(&calls, 1)
				cb(Progress{Status: StatusDownloading, Percent: 50})
				return nil
			},
		})
	}
	if err := m.FetchAll(context.Background(), jobs); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("download fn ran %d times; want 3", calls)
	}
	if updates == 0 {
		t.Error("listener never notified")
	}

	overall := m.GetProgress()
	if overall.TotalArchives != 3 || overall.CompletedCount != 3 {
		t.Errorf("overall = %+v; want 3 of 3 complete", overall)
	}
	if overall.OverallPercent != 100 {
		t.Errorf("overall percent = %v; want 100", overall.OverallPercent)
	}
	if m.IsActive() {
		t.Error("manager still active after FetchAll returned")
	}
}

func TestManagerFetchAllError(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	jobs := []ArchiveDownload{
		{ID: "ok", Name: "ok.zip", DownloadFn: func(ctx context.Context, cb ProgressCallback) error {
			return nil
		}},
		{ID: "bad", Name: "bad.zip", DownloadFn: func(ctx context.Context, cb ProgressCallback) error {
			return boom
		}},
	}
	if err := m.FetchAll(context.Background(), jobs); !errors.Is(err, boom) {
		t.Errorf("FetchAll error = %v; want wrapped boom", err)
	}
	p, ok := m.GetArchiveProgress("bad")
	if !ok || p.Status != StatusError {
		t.Errorf("bad archive progress = %+v; want error status", p)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, c := range cases {
		if got := FormatBytes(c.in); got != c.want {
			t.Errorf("FormatBytes(%d) = %q; want %q", c.in, got, c.want)
		}
	}
	if got := FormatSpeed(2048); got != "2.0 KB/s" {
		t.Errorf("FormatSpeed(2048) = %q; want %q", got, "2.0 KB/s")
	}
}
