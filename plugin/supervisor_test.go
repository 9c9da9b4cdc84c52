package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/errors"
	"github.com/rhymu8354/webserver/host"
)

// countingLinker records link order and serves a trivial entrypoint.
type countingLinker struct {
	mu      sync.Mutex
	linkErr error
	linked  []string
	unloads int
}

func (l *countingLinker) Link(runtimePath, moduleName string) (Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.linkErr != nil {
		return nil, l.linkErr
	}
	l.linked = append(l.linked, moduleName)
	return &fakeLibrary{
		entry: func(srv host.Handle, config json.RawMessage, diag diagnostics.SinkFunc) func() {
			return func() {
				l.mu.Lock()
				l.unloads++
				l.mu.Unlock()
			}
		},
	}, nil
}

func (l *countingLinker) linkedModules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.linked...)
}

func (l *countingLinker) unloadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloads
}

func newTestSupervisor(t *testing.T, linker Linker) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "image")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))
	return NewSupervisor(host.New(host.Options{}), linker,
		imageDir, filepath.Join(dir, "runtime"), nil, diagnostics.LevelInfo)
}

func writeRecordImage(t *testing.T, r *Record, contents string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(r.ImagePath, []byte(contents), 0o644))
	require.NoError(t, os.Chtimes(r.ImagePath, mtime, mtime))
}

func TestScanOnceLoadsInInsertionOrder(t *testing.T) {
	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	now := time.Now()
	writeRecordImage(t, s.Track("Chat", "ChatRoom", nil), "a", now)
	writeRecordImage(t, s.Track("Static", "StaticContent", nil), "b", now)

	assert.False(t, s.ScanOnce())
	assert.Equal(t, []string{"ChatRoom", "StaticContent"}, linker.linkedModules())
	for _, r := range s.Records() {
		assert.True(t, r.Loaded(), r.Name)
	}
}

func TestScanOnceSkipsMissingImage(t *testing.T) {
	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	s.Track("Chat", "ChatRoom", nil)

	assert.False(t, s.ScanOnce())
	assert.Empty(t, linker.linkedModules())
}

func TestScanOnceReloadsOnImageChange(t *testing.T) {
	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	r := s.Track("Chat", "ChatRoom", nil)
	base := time.Now().Add(-time.Minute)
	writeRecordImage(t, r, "v1", base)

	s.ScanOnce()
	require.True(t, r.Loaded())
	require.Len(t, linker.linkedModules(), 1)

	// Same mtime: no reload.
	s.ScanOnce()
	assert.Len(t, linker.linkedModules(), 1)
	assert.Zero(t, linker.unloadCount())

	// New image: exactly one unload followed by one load.
	writeRecordImage(t, r, "v2", base.Add(time.Second))
	s.ScanOnce()
	assert.Len(t, linker.linkedModules(), 2)
	assert.Equal(t, 1, linker.unloadCount())
	assert.True(t, r.Loaded())
}

func TestPermanentFailurePinsUntilImageChanges(t *testing.T) {
	linker := &countingLinker{linkErr: errors.ErrPluginLink}
	s := newTestSupervisor(t, linker)
	r := s.Track("Chat", "ChatRoom", nil)
	base := time.Now().Add(-time.Minute)
	writeRecordImage(t, r, "v1", base)

	s.ScanOnce()
	assert.False(t, r.Loaded())
	assert.False(t, r.loadable)

	// Pinned: further scans do not attempt another link.
	linker.linkErr = nil
	s.ScanOnce()
	assert.Empty(t, linker.linkedModules())

	// A new image clears the pin.
	writeRecordImage(t, r, "v2", base.Add(time.Second))
	s.ScanOnce()
	assert.Equal(t, []string{"ChatRoom"}, linker.linkedModules())
	assert.True(t, r.Loaded())
}

func TestTransientCopyFailureRequestsRescan(t *testing.T) {
	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	r := s.Track("Chat", "ChatRoom", nil)
	// A directory at the image path stats cleanly but cannot be copied.
	require.NoError(t, os.MkdirAll(r.ImagePath, 0o755))

	assert.True(t, s.ScanOnce())
	assert.False(t, r.Loaded())
	assert.True(t, r.loadable)

	// Once the real image lands, the next pass loads it.
	require.NoError(t, os.Remove(r.ImagePath))
	writeRecordImage(t, r, "v1", time.Now())
	assert.False(t, s.ScanOnce())
	assert.True(t, r.Loaded())
}

func TestBackgroundReconcilerCoalescesBursts(t *testing.T) {
	defer goleak.VerifyNone(t)

	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	r := s.Track("Chat", "ChatRoom", nil)

	require.NoError(t, s.StartBackground())
	defer func() {
		s.StopBackground()
		s.UnloadAll()
	}()

	// Several quick writes while the image settles.
	base := time.Now().Add(-time.Minute)
	writeRecordImage(t, r, "v1", base)
	writeRecordImage(t, r, "v1 more", base)
	writeRecordImage(t, r, "v1 done", base)

	require.Eventually(t, func() bool {
		return len(linker.linkedModules()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The burst coalesced into a single load.
	time.Sleep(3 * scanDebounce)
	assert.Len(t, linker.linkedModules(), 1)
	assert.Zero(t, linker.unloadCount())
}

func TestSupervisorRestarts(t *testing.T) {
	defer goleak.VerifyNone(t)

	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	r := s.Track("Chat", "ChatRoom", nil)

	require.NoError(t, s.StartBackground())
	s.StopBackground()

	// An image that landed while the supervisor was stopped loads on the
	// next start without any watcher event.
	writeRecordImage(t, r, "v1", time.Now())
	require.NoError(t, s.StartBackground())
	require.Eventually(t, func() bool {
		return len(linker.linkedModules()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.StopBackground()
	s.UnloadAll()
	assert.Equal(t, 1, linker.unloadCount())
}

func TestStopBackgroundJoins(t *testing.T) {
	defer goleak.VerifyNone(t)

	linker := &countingLinker{}
	s := newTestSupervisor(t, linker)
	writeRecordImage(t, s.Track("Chat", "ChatRoom", nil), "v1", time.Now())

	require.NoError(t, s.StartBackground())
	require.Eventually(t, func() bool {
		return len(linker.linkedModules()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.StopBackground()
	s.UnloadAll()
	assert.Equal(t, 1, linker.unloadCount())
}
