// Package importwatch monitors a drop folder for new audio files and
// imports each one as an edit session. This provides an alternative to
// uploading through the HTTP API for studios that export takes to a
// shared directory.
package importwatch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Importer receives fully written audio files found in the watch dir.
type Importer interface {
	ImportFile(ctx context.Context, path string) error
}

var audioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
}

// Watcher monitors a directory tree for new audio files.
type Watcher struct {
	importer Importer
	watchDir string
	log      zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesImported atomic.Int64
	filesFailed   atomic.Int64
	status        atomic.Value // string: "starting", "watching", "stopped"
}

func New(importer Importer, watchDir string, log zerolog.Logger) *Watcher {
	w := &Watcher{
		importer:       importer,
		watchDir:       watchDir,
		log:            log.With().Str("component", "importwatch").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start initializes the fsnotify watcher, adds all existing directories,
// and begins watching for new files.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())

	dirCount := 0
	err = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.watchDir).
		Msg("import watcher initialized")

	w.status.Store("watching")
	go w.watchLoop()

	return nil
}

// Stop closes the fsnotify watcher and cancels any in-flight imports.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("files_imported", w.filesImported.Load()).
		Int64("files_failed", w.filesFailed.Load()).
		Msg("import watcher stopped")
}

// Status describes the watcher for the health endpoint.
type Status struct {
	Status        string `json:"status"`
	WatchDir      string `json:"watch_dir"`
	FilesImported int64  `json:"files_imported"`
	FilesFailed   int64  `json:"files_failed"`
}

func (w *Watcher) Status() *Status {
	s, _ := w.status.Load().(string)
	return &Status{
		Status:        s,
		WatchDir:      w.watchDir,
		FilesImported: w.filesImported.Load(),
		FilesFailed:   w.filesFailed.Load(),
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New directory: add it to the watch set so we catch files
			// dropped into freshly created subfolders.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					w.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !audioExts[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}

			w.scheduleImport(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleImport debounces file imports by 500ms. This coalesces rapid
// Create+Write events and ensures the file is fully written before
// reading.
func (w *Watcher) scheduleImport(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.importFile(path)
	})
}

func (w *Watcher) importFile(path string) {
	if err := w.importer.ImportFile(w.ctx, path); err != nil {
		w.filesFailed.Add(1)
		w.log.Warn().Err(err).Str("path", path).Msg("failed to import dropped file")
		return
	}
	w.filesImported.Add(1)
	w.log.Info().Str("path", path).Msg("imported dropped file")
}
