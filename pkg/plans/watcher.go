package plans

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/sitework/pkg/observability"
)

// CatalogSetter receives reloaded catalogs. *PostgresStore satisfies it.
type CatalogSetter interface {
	SetCatalog(c *Catalog)
}

const catalogSettle = 100 * time.Millisecond

// CatalogWatcher reloads a catalog file when it changes on disk. A file
// that fails to parse is logged and the previous catalog stays in use.
type CatalogWatcher struct {
	path    string
	target  CatalogSetter
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCatalogWatcher watches path's directory so editors that replace the
// file by rename are still seen
func NewCatalogWatcher(path string, target CatalogSetter, logger *observability.Logger) (*CatalogWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if logger == nil {
		logger = observability.Discard()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &CatalogWatcher{
		path:    filepath.Clean(path),
		target:  target,
		logger:  logger.WithField("catalog", path),
		watcher: w,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins handling file events in the background
func (cw *CatalogWatcher) Start() {
	go cw.run()
}

// Reload reads the file now and swaps it in
func (cw *CatalogWatcher) Reload() error {
	c, err := LoadCatalogFile(cw.path)
	if err != nil {
		return err
	}
	cw.target.SetCatalog(c)
	cw.logger.Info("plan catalog reloaded")
	return nil
}

func (cw *CatalogWatcher) run() {
	defer observability.RecoverPanic(cw.logger, "plan catalog watcher")

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// let the writer finish
			time.Sleep(catalogSettle)
			if err := cw.Reload(); err != nil {
				cw.logger.WithError(err).Error("plan catalog reload failed, keeping previous catalog")
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.WithError(err).Warn("plan catalog watcher error")

		case <-cw.stop:
			return
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (cw *CatalogWatcher) Close() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stop)
		err = cw.watcher.Close()
	})
	return err
}
