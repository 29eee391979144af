package core

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type ConfigHandler func(cfg *Config)

// ConfigWatcher reloads a configuration file whenever it changes on disk.
// The parent directory is watched rather than the file itself so editors that
// replace the file through a rename are still picked up.
type ConfigWatcher struct {
	path     string
	onChange ConfigHandler
	onError  func(err error)

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewConfigWatcher(path string, onChange ConfigHandler) (*ConfigWatcher, error) {
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

	cw := &ConfigWatcher{
		path:     abs,
		onChange: onChange,
		onError: func(err error) {
			LogError("config watcher: %s", err)
		},
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

// OnError replaces the default error handler, which only logs.
func (cw *ConfigWatcher) OnError(fn func(err error)) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.onError = fn
}

func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	if cw.isClosed {
		cw.mutex.Unlock()
		return ErrWatcherClosed
	}
	cw.isClosed = true
	cw.mutex.Unlock()

	close(cw.done)
	cw.wg.Wait()
	return cw.fsnotify.Close()
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				cw.reload()
			}

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			cw.reportError(err)

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		// Keep running with the previous configuration.
		cw.reportError(err)
		return
	}
	LogDebug("configuration reloaded from %s", cw.path)
	cw.onChange(cfg)
}

func (cw *ConfigWatcher) reportError(err error) {
	cw.mutex.Lock()
	fn := cw.onError
	cw.mutex.Unlock()
	if fn != nil {
		fn(err)
	}
}
