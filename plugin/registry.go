package plugin

import (
	"os"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/rhymu8354/webserver/errors"
)

// Registration describes one builtin plug-in module.
type Registration struct {
	// Module is the module name plug-in records resolve, with no library
	// prefix or extension.
	Module string

	// HostVersion optionally constrains the host versions the module works
	// with, as a semver range such as ">= 1.2".
	HostVersion string

	// Entry is the module's entrypoint.
	Entry EntryPoint
}

// Registry holds plug-in modules compiled into the host. It serves the same
// image/runtime protocol as shared objects: a record still needs its
// runtime file copied in place before the module links.
type Registry struct {
	hostVersion *semver.Version

	mu      sync.RWMutex
	entries map[string]EntryPoint
}

// NewRegistry returns a Registry gating registrations against hostVersion.
func NewRegistry(hostVersion string) (*Registry, error) {
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing host version %q", hostVersion)
	}
	return &Registry{
		hostVersion: v,
		entries:     make(map[string]EntryPoint),
	}, nil
}

// Register adds a module. It rejects duplicates, nil entrypoints, and
// modules whose host-version constraint excludes the running host.
func (reg *Registry) Register(r Registration) error {
	if r.Module == "" {
		return errors.New("module name must not be empty")
	}
	if r.Entry == nil {
		return errors.Newf("module %q has no entrypoint", r.Module)
	}
	if r.HostVersion != "" {
		constraint, err := semver.NewConstraint(r.HostVersion)
		if err != nil {
			return errors.Wrapf(err, "module %q host version constraint", r.Module)
		}
		if !constraint.Check(reg.hostVersion) {
			return errors.Newf("module %q requires host version %q, have %s",
				r.Module, r.HostVersion, reg.hostVersion)
		}
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.entries[r.Module]; exists {
		return errors.Newf("module %q already registered", r.Module)
	}
	reg.entries[r.Module] = r.Entry
	return nil
}

// Lookup returns the entrypoint registered for module.
func (reg *Registry) Lookup(module string) (EntryPoint, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	entry, ok := reg.entries[module]
	return entry, ok
}

// Modules lists the registered module names, sorted.
func (reg *Registry) Modules() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.entries))
	for m := range reg.entries {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// BuiltinLinker resolves module names against a Registry. The runtime file
// must still exist, so hot-reload file semantics match the shared-object
// path exactly.
type BuiltinLinker struct {
	Registry *Registry
}

// Link implements Linker.
func (l BuiltinLinker) Link(runtimePath, moduleName string) (Library, error) {
	if _, err := os.Stat(runtimePath); err != nil {
		return nil, errors.Wrapf(errors.ErrPluginLink, "runtime file: %v", err)
	}
	entry, ok := l.Registry.Lookup(moduleName)
	if !ok {
		return nil, errors.Wrapf(errors.ErrPluginLink, "no builtin module %q", moduleName)
	}
	return builtinLibrary{entry: entry}, nil
}

type builtinLibrary struct {
	entry EntryPoint
}

func (l builtinLibrary) Entrypoint() (EntryPoint, error) {
	return l.entry, nil
}

func (l builtinLibrary) Unlink() {}
