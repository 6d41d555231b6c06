package system

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// Ensure FileNotifier implements the interface.
var _ driven.ChangeNotifier = (*FileNotifier)(nil)

// DefaultDebounce coalesces bursts of writes into one notification.
const DefaultDebounce = 200 * time.Millisecond

// FileNotifier signals writes to a file. The parent directory is watched
// so that SQLite's -wal and -shm siblings count as writes too.
type FileNotifier struct {
	watcher  *fsnotify.Watcher
	prefix   string
	debounce time.Duration
	changes  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// WatchFile starts watching path. debounce <= 0 uses DefaultDebounce.
func WatchFile(path string, debounce time.Duration) (*FileNotifier, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	n := &FileNotifier{
		watcher:  w,
		prefix:   filepath.Base(path),
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

// Changes delivers one value per burst of writes.
func (n *FileNotifier) Changes() <-chan struct{} {
	return n.changes
}

// Close stops watching.
func (n *FileNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.watcher.Close()
	})
	return err
}

func (n *FileNotifier) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-n.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !n.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(n.debounce)
				fire = timer.C
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logger.Debug("watch error: %v", err)
		case <-fire:
			timer, fire = nil, nil
			select {
			case n.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (n *FileNotifier) relevant(event fsnotify.Event) bool {
	if !strings.HasPrefix(filepath.Base(event.Name), n.prefix) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}
