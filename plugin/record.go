package plugin

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/host"
)

// LoadResult classifies the outcome of a Record.Load attempt.
type LoadResult int

const (
	// LoadOK means the plug-in is linked and running.
	LoadOK LoadResult = iota

	// LoadTransient means the image could not be copied right now, most
	// likely because it is still being written. The record stays eligible
	// and the supervisor retries soon.
	LoadTransient

	// LoadFailed means the plug-in cannot load from this image: link
	// failure, missing entrypoint, or the entrypoint declined. The record
	// is pinned until the image changes again.
	LoadFailed
)

// Record tracks one configured plug-in across load/unload cycles.
type Record struct {
	// Name is the plug-in's configured name, used to tag its diagnostics.
	Name string

	// ModuleName is the library base name, without prefix or extension.
	ModuleName string

	// ImagePath is the authoritative library file, written by builds and
	// never loaded directly.
	ImagePath string

	// RuntimePath is the writable copy the linker actually binds.
	RuntimePath string

	// Configuration is the plug-in's opaque configuration subtree.
	Configuration json.RawMessage

	lastModified time.Time
	loadable     bool
	library      Library
	unload       func()
}

// NewRecord returns an unloaded Record whose image and runtime files follow
// the platform library naming convention under the given directories.
func NewRecord(name, moduleName string, imageDir, runtimeDir string, config json.RawMessage) *Record {
	fileName := ModuleFileName(moduleName)
	return &Record{
		Name:          name,
		ModuleName:    moduleName,
		ImagePath:     filepath.Join(imageDir, fileName),
		RuntimePath:   filepath.Join(runtimeDir, fileName),
		Configuration: config,
		loadable:      true,
	}
}

// Loaded reports whether the plug-in is currently linked and running.
func (r *Record) Loaded() bool {
	return r.unload != nil
}

// Load runs the load protocol: copy the image to the runtime file, link it,
// resolve the entrypoint, and invoke it. Diagnostics from the plug-in are
// re-tagged with the record's name. On permanent failure the record is
// pinned and the runtime file removed.
func (r *Record) Load(srv host.Handle, linker Linker, diag *diagnostics.Sender) LoadResult {
	diag.Publishf(diagnostics.LevelInfo, "Copying plug-in '%s'", r.Name)
	if err := copyFile(r.ImagePath, r.RuntimePath); err != nil {
		diag.Publishf(diagnostics.LevelWarning,
			"unable to copy plug-in '%s' library", r.Name)
		return LoadTransient
	}
	diag.Publishf(diagnostics.LevelInfo, "Linking plug-in '%s'", r.Name)
	library, err := linker.Link(r.RuntimePath, r.ModuleName)
	if err != nil {
		diag.Publishf(diagnostics.LevelWarning,
			"unable to link plug-in '%s' library", r.Name)
		r.discardRuntime()
		return LoadFailed
	}
	diag.Publishf(diagnostics.LevelInfo, "Locating plug-in '%s' entrypoint", r.Name)
	entry, err := library.Entrypoint()
	if err != nil {
		diag.Publishf(diagnostics.LevelWarning,
			"unable to find plug-in '%s' entrypoint", r.Name)
		library.Unlink()
		r.discardRuntime()
		return LoadFailed
	}
	diag.Publishf(diagnostics.LevelInfo, "Loading plug-in '%s'", r.Name)
	unload := entry(srv, r.Configuration, diagnostics.Retag(r.Name, diag.Sink()))
	if unload == nil {
		diag.Publishf(diagnostics.LevelWarning,
			"plug-in '%s' failed to load", r.Name)
		library.Unlink()
		r.discardRuntime()
		return LoadFailed
	}
	r.library = library
	r.unload = unload
	diag.Publishf(diagnostics.LevelImportant, "Plug-in '%s' loaded", r.Name)
	return LoadOK
}

// Unload tears the plug-in down: invoke the unload callback, drop it, then
// unlink. The callback is dropped before unlinking because the state it
// captured may hold code from the library. Idempotent.
func (r *Record) Unload(diag *diagnostics.Sender) {
	if r.unload == nil {
		return
	}
	diag.Publishf(diagnostics.LevelInfo, "Unloading plug-in '%s'", r.Name)
	r.unload()
	r.unload = nil
	r.library.Unlink()
	r.library = nil
	diag.Publishf(diagnostics.LevelImportant, "Plug-in '%s' unloaded", r.Name)
}

// discardRuntime pins the record and removes its runtime file.
func (r *Record) discardRuntime() {
	r.loadable = false
	os.Remove(r.RuntimePath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
