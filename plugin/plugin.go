// Package plugin manages the server's dynamically loaded extensions: the
// per-plug-in record and its load/unload protocol, the linkers that bind a
// runtime file to executable code, and the supervisor that watches the
// image directory and reconciles the loaded set.
package plugin

import (
	"encoding/json"
	"runtime"

	goplugin "plugin"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/errors"
	"github.com/rhymu8354/webserver/host"
)

// EntryPoint is the signature of a plug-in's LoadPlugin symbol. The plug-in
// installs its resources through srv, reads its own configuration subtree,
// and reports through diag. It returns the function that tears all of that
// down again, or nil if it could not load.
type EntryPoint func(srv host.Handle, config json.RawMessage, diag diagnostics.SinkFunc) (unload func())

// Library is a linked plug-in library.
type Library interface {
	// Entrypoint resolves the library's LoadPlugin symbol.
	Entrypoint() (EntryPoint, error)

	// Unlink releases the library. After Unlink no code from the library
	// may run, so the plug-in's unload callback must have been invoked and
	// dropped first.
	Unlink()
}

// Linker binds the runtime file of a plug-in to a Library.
type Linker interface {
	Link(runtimePath, moduleName string) (Library, error)
}

// ModuleFileName returns the platform-conventional file name for a module's
// shared library.
func ModuleFileName(moduleName string) string {
	switch runtime.GOOS {
	case "windows":
		return moduleName + ".dll"
	case "darwin":
		return moduleName + ".dylib"
	default:
		return moduleName + ".so"
	}
}

// SharedObjectLinker links runtime files as real shared objects built with
// -buildmode=plugin.
type SharedObjectLinker struct{}

// Link implements Linker.
func (SharedObjectLinker) Link(runtimePath, moduleName string) (Library, error) {
	lib, err := goplugin.Open(runtimePath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrPluginLink, "opening %s: %v", runtimePath, err)
	}
	return &sharedObjectLibrary{lib: lib}, nil
}

type sharedObjectLibrary struct {
	lib *goplugin.Plugin
}

func (l *sharedObjectLibrary) Entrypoint() (EntryPoint, error) {
	sym, err := l.lib.Lookup("LoadPlugin")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrPluginEntrypoint, "%v", err)
	}
	switch entry := sym.(type) {
	case func(host.Handle, json.RawMessage, diagnostics.SinkFunc) func():
		return entry, nil
	case *EntryPoint:
		return *entry, nil
	default:
		return nil, errors.Wrapf(errors.ErrPluginEntrypoint,
			"LoadPlugin has unexpected type %T", sym)
	}
}

// Unlink drops the handle. The Go runtime cannot unload a shared object;
// a changed image is linked again from a fresh runtime copy instead.
func (l *sharedObjectLibrary) Unlink() {
	l.lib = nil
}

// ChainLinkers returns a Linker that tries each given linker in order and
// returns the first successful link.
func ChainLinkers(linkers ...Linker) Linker {
	return chainLinker(linkers)
}

type chainLinker []Linker

func (c chainLinker) Link(runtimePath, moduleName string) (Library, error) {
	var lastErr error
	for _, l := range c {
		lib, err := l.Link(runtimePath, moduleName)
		if err == nil {
			return lib, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.Wrap(errors.ErrPluginLink, "no linkers configured")
	}
	return nil, lastErr
}
