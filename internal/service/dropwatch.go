package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/domain"
)

const (
	ingestedSuffix = ".ingested"
	failedSuffix   = ".failed"

	// dropSettle is how long a file must stay quiet before it is read.
	dropSettle = 500 * time.Millisecond
)

// DropFile is the JSON accepted in the drop directory. Either list may be
// empty.
type DropFile struct {
	Propositions []domain.Candidate `json:"propositions"`
	Messages     []domain.Message   `json:"messages"`
}

// DropWatcher ingests *.json batch files written into a directory and
// renames each one with .ingested or .failed once handled.
type DropWatcher struct {
	dir    string
	ingest *IngestService
	logger *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	stopCh  chan struct{}
	// wg covers the event loop and every file being processed.
	wg sync.WaitGroup
}

func NewDropWatcher(dir string, ingest *IngestService, logger *zap.Logger) *DropWatcher {
	return &DropWatcher{
		dir:    dir,
		ingest: ingest,
		logger: logger,
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}
}

// Start sweeps files already waiting in the directory, then watches it.
func (w *DropWatcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	pending, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list drop dir: %w", err)
	}
	for _, path := range pending {
		w.schedule(path)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info("drop watcher started", zap.String("dir", w.dir))

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isDropFile(event.Name) {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					w.schedule(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("drop watcher error", zap.Error(err))
			case <-w.stopCh:
				w.logger.Info("drop watcher stopped")
				return
			}
		}
	}()
	return nil
}

// Stop cancels pending files and returns once files already being
// processed are done.
func (w *DropWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

// schedule debounces events for path so a file still being written is not
// read half-way.
func (w *DropWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(dropSettle)
		return
	}
	w.timers[path] = time.AfterFunc(dropSettle, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := w.ProcessFile(ctx, path); err != nil {
			w.logger.Error("drop file failed", zap.String("path", path), zap.Error(err))
		}
	})
}

// ProcessFile ingests one drop file and renames it according to the outcome.
// A file whose items partly failed still counts as ingested; the per-item
// errors are logged.
func (w *DropWatcher) ProcessFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read drop file: %w", err)
	}

	var file DropFile
	if err := json.Unmarshal(data, &file); err != nil {
		w.markFailed(path)
		return fmt.Errorf("parse drop file: %w", err)
	}

	r, err := w.ingest.IngestFile(ctx, file, filepath.Base(path))
	if err != nil {
		w.markFailed(path)
		return err
	}

	if err := os.Rename(path, path+ingestedSuffix); err != nil {
		return fmt.Errorf("mark drop file ingested: %w", err)
	}
	w.logger.Info("drop file ingested",
		zap.String("path", path),
		zap.Int("stored", r.Stored),
		zap.Int("duplicates", r.Duplicates),
		zap.Int("errors", r.Errors))
	return nil
}

// FileResult totals one DropFile across its propositions and messages.
type FileResult struct {
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// IngestFile ingests both parts of a DropFile. Messages without a source
// file are attributed to sourceName.
func (s *IngestService) IngestFile(ctx context.Context, file DropFile, sourceName string) (*FileResult, error) {
	out := &FileResult{}
	if len(file.Propositions) > 0 {
		r := s.Ingest(ctx, file.Propositions)
		out.Stored += r.Stored
		out.Duplicates += r.Duplicates
		out.Errors += r.Errors
	}
	if len(file.Messages) > 0 {
		for i := range file.Messages {
			if file.Messages[i].SourceFile == "" {
				file.Messages[i].SourceFile = sourceName
			}
		}
		r, err := s.IngestMessages(ctx, file.Messages)
		if err != nil {
			return out, fmt.Errorf("ingest messages: %w", err)
		}
		out.Stored += r.Ingest.Stored
		out.Duplicates += r.Ingest.Duplicates
		out.Errors += r.Ingest.Errors + r.ExtractErrors
	}
	return out, nil
}

func (w *DropWatcher) markFailed(path string) {
	if err := os.Rename(path, path+failedSuffix); err != nil {
		w.logger.Warn("could not mark drop file failed", zap.String("path", path), zap.Error(err))
	}
}

func isDropFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
