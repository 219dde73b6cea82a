package downloads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager orchestrates archive downloads with progress tracking. Progress
// updates fan out to an optional listener so callers (CLI, logs) can render
// combined state without polling.
type Manager struct {
	mu          sync.RWMutex
	progress    map[string]*Progress
	cancelFuncs map[string]context.CancelFunc
	active      bool
	listener    func(OverallProgress)

	// Parallelism bounds concurrent downloads in FetchAll. Zero means 2.
	Parallelism int
}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{
		progress:    make(map[string]*Progress),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// SetListener registers a callback invoked after every progress update.
func (m *Manager) SetListener(fn func(OverallProgress)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// ArchiveDownload represents one archive to be fetched.
type ArchiveDownload struct {
	ID         string
	Name       string
	DownloadFn func(context.Context, ProgressCallback) error
}

// Fetch runs a single archive download with progress bookkeeping.
func (m *Manager) Fetch(ctx context.Context, id, name string, downloadFn func(context.Context, ProgressCallback) error) error {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancelFuncs[id] = cancel
	m.progress[id] = &Progress{
		ArchiveID:   id,
		ArchiveName: name,
		Status:      StatusPending,
	}
	m.mu.Unlock()

	progressCb := func(p Progress) {
		p.ArchiveID = id
		p.ArchiveName = name
		m.updateProgress(id, &p)
		m.notify()
	}

	progressCb(Progress{Status: StatusDownloading, Message: "Starting download..."})

	err := downloadFn(ctx, progressCb)

	m.mu.Lock()
	delete(m.cancelFuncs, id)
	m.mu.Unlock()

	if err != nil {
		if ctx.Err() == context.Canceled {
			progressCb(Progress{Status: StatusCancelled, Message: "Download cancelled"})
		} else {
			progressCb(Progress{Status: StatusError, Error: err.Error(), Message: "Download failed"})
		}
		return err
	}

	progressCb(Progress{Status: StatusComplete, Message: "Download complete", Percent: 100})
	return nil
}

// FetchAll downloads the given archives concurrently, bounded by
// Parallelism. The first error cancels the remaining downloads.
func (m *Manager) FetchAll(ctx context.Context, archives []ArchiveDownload) error {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
	}()

	for _, a := range archives {
		m.mu.Lock()
		m.progress[a.ID] = &Progress{
			ArchiveID:   a.ID,
			ArchiveName: a.Name,
			Status:      StatusPending,
		}
		m.mu.Unlock()
	}
	m.notify()

	limit := m.Parallelism
	if limit <= 0 {
		limit = 2
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, a := range archives {
		g.Go(func() error {
			if err := m.Fetch(ctx, a.ID, a.Name, a.DownloadFn); err != nil {
				return fmt.Errorf("%s: %w", a.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Cancel cancels a specific download.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	if cancel, ok := m.cancelFuncs[id]; ok {
		cancel()
	}
	m.mu.Unlock()
}

// CancelAll cancels all active downloads.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	for _, cancel := range m.cancelFuncs {
		cancel()
	}
	m.mu.Unlock()
}

// GetProgress returns the current progress of all downloads.
func (m *Manager) GetProgress() OverallProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Manager) overallLocked() OverallProgress {
	var overall OverallProgress
	overall.Archives = make([]Progress, 0, len(m.progress))
	overall.Active = m.active

	var totalPercent float64
	for _, p := range m.progress {
		overall.Archives = append(overall.Archives, *p)
		overall.TotalArchives++
		if p.Status == StatusComplete {
			overall.CompletedCount++
		}
		totalPercent += p.Percent
	}
	if overall.TotalArchives > 0 {
		overall.OverallPercent = totalPercent / float64(overall.TotalArchives)
	}
	return overall
}

// GetArchiveProgress returns the progress for a specific archive.
func (m *Manager) GetArchiveProgress(id string) (Progress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.progress[id]; ok {
		return *p, true
	}
	return Progress{}, false
}

// ClearProgress clears all progress data.
func (m *Manager) ClearProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = make(map[string]*Progress)
}

// IsActive returns whether any download is in progress.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) updateProgress(id string, p *Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[id] = p
}

func (m *Manager) notify() {
	m.mu.RLock()
	listener := m.listener
	overall := m.overallLocked()
	m.mu.RUnlock()
	if listener != nil {
		listener(overall)
	}
}

// SpeedTracker tracks download speed over time.
type SpeedTracker struct {
	mu          sync.Mutex
	lastBytes   int64
	lastTime    time.Time
	speedWindow []int64
}

// NewSpeedTracker creates a new SpeedTracker.
func NewSpeedTracker() *SpeedTracker {
	return &SpeedTracker{
		lastTime:    time.Now(),
		speedWindow: make([]int64, 0, 10),
	}
}

// Update updates the speed tracker with new byte count.
func (s *SpeedTracker) Update(totalBytes int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.lastTime).Seconds()

	if elapsed < 0.1 {
		// Not enough time passed for accurate measurement
		if len(s.speedWindow) > 0 {
			return s.averageSpeed()
		}
		return 0
	}

	bytesDownloaded := totalBytes - s.lastBytes
	speed := int64(float64(bytesDownloaded) / elapsed)

	s.lastBytes = totalBytes
	s.lastTime = now

	// Keep a sliding window of speed measurements
	s.speedWindow = append(s.speedWindow, speed)
	if len(s.speedWindow) > 10 {
		s.speedWindow = s.speedWindow[1:]
	}

	return s.averageSpeed()
}

func (s *SpeedTracker) averageSpeed() int64 {
	if len(s.speedWindow) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.speedWindow {
		sum += v
	}
	return sum / int64(len(s.speedWindow))
}
