package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ritzau/nma-engine/pkg/logging"
)

var log = logging.New("watcher")

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeDataset ChangeType = iota
	ChangeTypeConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeDataset:
		return "dataset"
	case ChangeTypeConfig:
		return "config"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches a dataset file, and optionally a config file, for changes.
// Parent directories are watched so editors that replace files on save are seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	targets map[string]ChangeType // absolute path -> type
	events  chan ChangeEvent
	batch   time.Duration
	once    sync.Once
}

// NewFileWatcher creates a watcher for the dataset file. configPath may be empty.
func NewFileWatcher(datasetPath, configPath string) (*FileWatcher, error) {
	targets := make(map[string]ChangeType)
	for path, typ := range map[string]ChangeType{datasetPath: ChangeTypeDataset, configPath: ChangeTypeConfig} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		targets[abs] = typ
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		targets: targets,
		events:  make(chan ChangeEvent, 100),
		batch:   100 * time.Millisecond,
	}, nil
}

// Start begins watching for file changes. The events channel is closed when
// ctx is cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	for path := range fw.targets {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			fw.Stop()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for path, typ := range fw.targets {
		log.Info("started watching", "path", path, "type", typ.String())
	}

	go fw.processEvents(ctx)
	return nil
}

// processEvents filters file system events down to the watched files and
// batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)

	pending := make(map[ChangeType][]string)
	flushTimer := time.NewTimer(fw.batch)
	flushTimer.Stop()
	defer flushTimer.Stop()

	flush := func() {
		for _, typ := range []ChangeType{ChangeTypeConfig, ChangeTypeDataset} {
			if paths := pending[typ]; len(paths) > 0 {
				select {
				case fw.events <- ChangeEvent{Type: typ, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
				}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	for {
		select {
		case <-ctx.Done():
			fw.Stop()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			typ, watched := fw.targets[abs]
			if !watched {
				continue
			}
			log.Debug("file changed", "path", abs, "op", event.Op.String())
			pending[typ] = append(pending[typ], abs)
			flushTimer.Reset(fw.batch)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.once.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}
