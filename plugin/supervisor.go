package plugin

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/errors"
	"github.com/rhymu8354/webserver/host"
)

// scanDebounce is how long the image directory must stay quiet before the
// reconciler scans. Builds touch a library several times in quick
// succession; scanning a half-written image would only churn.
const scanDebounce = 100 * time.Millisecond

// Supervisor drives a set of plug-in records: a synchronous ScanOnce pass
// plus a background reconciler fed by a filesystem watcher on the image
// directory.
type Supervisor struct {
	srv        host.Handle
	linker     Linker
	imageDir   string
	runtimeDir string
	diag       *diagnostics.Sender

	mu      sync.Mutex
	records []*Record

	wake    chan struct{}
	stop    chan struct{}
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewSupervisor returns a Supervisor with no records. Its diagnostics
// publish under the name "PluginLoader" into sink.
func NewSupervisor(srv host.Handle, linker Linker, imageDir, runtimeDir string,
	sink diagnostics.SinkFunc, minLevel int) *Supervisor {
	diag := diagnostics.NewSender("PluginLoader")
	if sink != nil {
		diag.Subscribe(sink, minLevel)
	}
	return &Supervisor{
		srv:        srv,
		linker:     linker,
		imageDir:   imageDir,
		runtimeDir: runtimeDir,
		diag:       diag,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Track adds a record for the named plug-in, in scan order.
func (s *Supervisor) Track(name, moduleName string, config json.RawMessage) *Record {
	r := NewRecord(name, moduleName, s.imageDir, s.runtimeDir, config)
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	return r
}

// Records returns the tracked records in insertion order.
func (s *Supervisor) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

// ScanOnce makes one reconciliation pass over the records in insertion
// order. It returns true if another pass should follow soon, which happens
// when a copy failed transiently.
func (s *Supervisor) ScanOnce() (rescan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		info, err := os.Stat(r.ImagePath)
		if err != nil {
			continue
		}
		mtime := info.ModTime()
		if r.Loaded() && !mtime.Equal(r.lastModified) {
			s.diag.Publishf(diagnostics.LevelImportant,
				"plug-in '%s' appears to have changed", r.Name)
			r.Unload(s.diag)
		}
		if !r.loadable && !mtime.Equal(r.lastModified) {
			r.loadable = true
		}
		if !r.Loaded() && r.loadable {
			switch r.Load(s.srv, s.linker, s.diag) {
			case LoadOK, LoadFailed:
				r.lastModified = mtime
			case LoadTransient:
				s.diag.Publishf(diagnostics.LevelWarning,
					"plug-in '%s' failed to copy; will attempt to copy and load again soon", r.Name)
				rescan = true
			}
		}
	}
	return rescan
}

// StartBackground begins watching the image directory and runs the
// reconciler until StopBackground.
func (s *Supervisor) StartBackground() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating image directory watcher")
	}
	if err := watcher.Add(s.imageDir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watching image directory %s", s.imageDir)
	}
	s.watcher = watcher
	s.stop = make(chan struct{})
	s.wg.Add(2)
	go s.watch()
	go s.run()
	// Images already on disk produce no watcher event; make one pass for
	// them right away.
	s.requestScan()
	return nil
}

// StopBackground detaches the watcher, signals the reconciler, and joins
// both goroutines. Loaded plug-ins stay loaded; call UnloadAll afterwards
// to tear them down.
func (s *Supervisor) StopBackground() {
	if s.watcher == nil {
		return
	}
	s.watcher.Close()
	close(s.stop)
	s.wg.Wait()
	s.watcher = nil
}

// UnloadAll unloads every loaded record in insertion order.
func (s *Supervisor) UnloadAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		r.Unload(s.diag)
	}
}

// requestScan nudges the reconciler; extra nudges while one is already
// pending coalesce.
func (s *Supervisor) requestScan() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) watch() {
	defer s.wg.Done()
	for {
		select {
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.requestScan()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	s.diag.Publish(diagnostics.LevelInfo, "starting")
	for {
		s.diag.Publish(diagnostics.LevelInfo, "sleeping")
		select {
		case <-s.stop:
			s.diag.Publish(diagnostics.LevelInfo, "stopping")
			return
		case <-s.wake:
		}
		s.diag.Publish(diagnostics.LevelInfo, "waking")
	debounce:
		for {
			s.diag.Publish(diagnostics.LevelInfo,
				"need scan; waiting to make sure all updates are done")
			select {
			case <-s.stop:
				s.diag.Publish(diagnostics.LevelInfo, "stopping")
				return
			case <-s.wake:
				s.diag.Publish(diagnostics.LevelInfo,
					"need scan, but updates still happening; backing off")
			case <-time.After(scanDebounce):
				break debounce
			}
		}
		s.diag.Publish(diagnostics.LevelInfo, "scanning")
		if s.ScanOnce() {
			s.requestScan()
		}
	}
}
