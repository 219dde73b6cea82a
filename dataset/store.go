package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kirbu123/olimp/downloads"
)

// StoreOptions configures the dataset store.
type StoreOptions struct {
	// Dir is the root directory for archives and extracted trees. Required.
	Dir string
	// DBPath is the SQLite index. Defaults to Dir/datasets.db.
	DBPath string
	// APIBase overrides the Zenodo API root, mainly for tests.
	APIBase string
	// Client is the HTTP client used for API calls. Defaults to
	// http.DefaultClient; archive downloads go through the downloads package.
	Client *http.Client
	// Parallelism bounds concurrent archive downloads.
	Parallelism int
	// Progress receives download and extraction updates.
	Progress downloads.ProgressCallback
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Store caches dataset records on disk with a SQLite index.
type Store struct {
	opts StoreOptions
	db   *sql.DB
	log  *zap.Logger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS archives (
	record   TEXT NOT NULL,
	file_key TEXT NOT NULL,
	extracted INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (record, file_key)
);
CREATE TABLE IF NOT EXISTS images (
	record  TEXT NOT NULL,
	relpath TEXT NOT NULL,
	PRIMARY KEY (record, relpath)
);
`

// NewStore opens (and if necessary initializes) a dataset store.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("dataset: store dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("dataset: create store dir: %w", err)
	}
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(opts.Dir, "datasets.db")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: open index: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dataset: init index: %w", err)
	}
	return &Store{opts: opts, db: db, log: opts.Logger}, nil
}

// Close releases the index database.
func (s *Store) Close() error { return s.db.Close() }

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.opts.Dir }

// recordDir is where a record's extracted tree lives.
func (s *Store) recordDir(rec Record) string {
	return filepath.Join(s.opts.Dir, rec.Name)
}

// Fetch ensures the record is downloaded, extracted and indexed, then
// returns the image paths per requested category. A category matches every
// image at or below its subpath; "*" matches the whole record.
func (s *Store) Fetch(ctx context.Context, rec Record, categories []string) (map[string][]string, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("dataset: no categories requested for %s", rec.Name)
	}
	indexed, err := s.indexedPaths(rec)
	if err != nil {
		return nil, err
	}
	if len(indexed) == 0 {
		if err := s.ensureExtracted(ctx, rec); err != nil {
			return nil, err
		}
		if err := s.indexImages(rec); err != nil {
			return nil, err
		}
		if indexed, err = s.indexedPaths(rec); err != nil {
			return nil, err
		}
		if len(indexed) == 0 {
			return nil, fmt.Errorf("dataset: record %s contains no images", rec.Name)
		}
	}

	root := s.recordDir(rec)
	out := make(map[string][]string, len(categories))
	for _, cat := range categories {
		var paths []string
		for _, rel := range indexed {
			if categoryMatches(cat, rel) {
				paths = append(paths, filepath.Join(root, filepath.FromSlash(rel)))
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("dataset: category %q of %s has no images", cat, rec.Name)
		}
		sort.Strings(paths)
		out[cat] = paths
	}
	return out, nil
}

// categoryMatches reports whether a slash-separated relative path falls
// under the category subpath.
func categoryMatches(cat, rel string) bool {
	if cat == "*" {
		return true
	}
	return strings.HasPrefix(rel, cat+"/")
}

func (s *Store) indexedPaths(rec Record) ([]string, error) {
	rows, err := s.db.Query(`SELECT relpath FROM images WHERE record = ? ORDER BY relpath`, rec.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var rel string
		if err := rows.Scan(&rel); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// ensureExtracted downloads and extracts every archive of the record that is
// not already marked extracted.
func (s *Store) ensureExtracted(ctx context.Context, rec Record) error {
	files, err := FetchRecordFiles(ctx, s.opts.Client, s.opts.APIBase, rec.ID)
	if err != nil {
		return err
	}
	archiveDir := filepath.Join(s.opts.Dir, "archives", rec.Name)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return err
	}

	mgr := downloads.NewManager()
	mgr.Parallelism = s.opts.Parallelism
	if s.opts.Progress != nil {
		progress := s.opts.Progress
		mgr.SetListener(func(overall downloads.OverallProgress) {
			for _, p := range overall.Archives {
				progress(p)
			}
		})
	}

	var jobs []downloads.ArchiveDownload
	for _, f := range files {
		done, err := s.isExtracted(rec, f.Key)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		jobs = append(jobs, downloads.ArchiveDownload{
			ID:         fmt.Sprintf("%s/%s", rec.Name, f.Key),
			Name:       f.Key,
			DownloadFn: s.archiveJob(rec, f, archiveDir),
		})
	}
	if len(jobs) == 0 {
		return nil
	}
	s.log.Info("fetching dataset record",
		zap.String("record", rec.Name),
		zap.Int("archives", len(jobs)))
	return mgr.FetchAll(ctx, jobs)
}

// archiveJob downloads one archive with resume and retry, extracts it into
// the record directory and marks it done.
func (s *Store) archiveJob(rec Record, f RecordFile, archiveDir string) func(context.Context, downloads.ProgressCallback) error {
	return func(ctx context.Context, cb downloads.ProgressCallback) error {
		archivePath := filepath.Join(archiveDir, f.Key)
		tracker := downloads.NewSpeedTracker()
		byteCb := func(done, total int64) {
			if cb == nil {
				return
			}
			p := downloads.Progress{
				Status:          downloads.StatusDownloading,
				BytesDownloaded: done,
				TotalBytes:      total,
				Speed:           tracker.Update(done),
			}
			if total > 0 {
				p.Percent = float64(done) / float64(total) * 100
			}
			cb(p)
		}
		if err := downloads.DownloadWithRetry(ctx, archivePath, f.URL, byteCb); err != nil {
			return err
		}
		if err := downloads.ExtractArchive(archivePath, s.recordDir(rec), "", cb); err != nil {
			return err
		}
		if err := s.markExtracted(rec, f.Key); err != nil {
			return err
		}
		// the archive itself is no longer needed once extracted
		if err := os.Remove(archivePath); err != nil {
			s.log.Warn("could not remove archive", zap.String("path", archivePath), zap.Error(err))
		}
		return nil
	}
}

func (s *Store) isExtracted(rec Record, key string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM archives WHERE record = ? AND file_key = ? AND extracted = 1`,
		rec.Name, key).Scan(&n)
	return n > 0, err
}

func (s *Store) markExtracted(rec Record, key string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO archives (record, file_key, extracted) VALUES (?, ?, 1)`,
		rec.Name, key)
	return err
}

// indexImages walks the extracted tree and records every image path.
func (s *Store) indexImages(rec Record) error {
	root := s.recordDir(rec)
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	count := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImagePath(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO images (record, relpath) VALUES (?, ?)`,
			rec.Name, rel); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("dataset: index %s: %w", rec.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("indexed dataset record",
		zap.String("record", rec.Name),
		zap.Int("images", count))
	return nil
}

// IndexedRecord summarizes one cached record.
type IndexedRecord struct {
	Record string
	Images int
}

// Indexed lists the records present in the cache with their image counts.
func (s *Store) Indexed() ([]IndexedRecord, error) {
	rows, err := s.db.Query(
		`SELECT record, COUNT(*) FROM images GROUP BY record ORDER BY record`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IndexedRecord
	for rows.Next() {
		var r IndexedRecord
		if err := rows.Scan(&r.Record, &r.Images); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
