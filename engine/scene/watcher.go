package scene

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/prism/engine/core"
)

// Watcher reports changes to a scene file. Editors often replace files
// instead of writing them, so the parent directory is watched and events
// are filtered by name.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher

	// Holds at most one pending reload; bursts of writes collapse into it.
	reloads chan string
	done    chan struct{}
	wg      sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		reloads:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// Reloads delivers the path of the scene file after it changed.
func (w *Watcher) Reloads() <-chan string {
	return w.reloads
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			core.LogDebug("scene file event: %s", e.String())
			select {
			case w.reloads <- w.path:
			default:
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return errors.New("scene watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
