// Package watch implements the folder-watch pipeline that drives symbol
// hot-patching: a Provider monitors a directory tree, dispatches
// create/change/remove events to extension-keyed Handlers, and
// aggregates the resulting Patch values for atomic application. The
// Patch/Handler pair is an interface so packages other than symtab can
// plug in their own staged change-set type; the event source is
// github.com/fsnotify/fsnotify.
package watch

// Handler decodes a single source file into a staged Patch.
// Implementations are expected to
// compile/parse the file and return the edits it implies, without
// applying them — Provider aggregates and applies patches itself.
type Handler interface {
	// HandleInit is called once per matching file discovered by the
	// initial scan (Provider.RunOnce, before Start's watch loop begins).
	HandleInit(path string) (Patch, error)
	// HandleInitComplete is called once, after every matching file has
	// been passed to HandleInit, to let a Handler emit any patches that
	// depend on having seen the whole initial file set (e.g. pruning
	// previously-declared symbols no longer present anywhere).
	HandleInitComplete() (Patch, error)
	// HandleCreate is called for a file discovered after the initial
	// scan: a create event seen by the watch loop, or any matching file
	// found by a RunOnce call after the first.
	HandleCreate(path string) (Patch, error)
	// HandleRenamed handles a matching file renamed/moved from oldPath to
	// newPath. Provider does not call it: it reports a rename as
	// HandleRemoved for the old path.
	HandleRenamed(oldPath, newPath string) (Patch, error)
	// HandleChanged is called when a matching file's contents change.
	HandleChanged(path string) (Patch, error)
	// HandleRemoved is called when a matching file is deleted. Unlike
	// the other methods, there is no file to read.
	HandleRemoved(path string) (Patch, error)
}

// Patch is a staged, mergeable, applyable set of changes produced by a
// Handler. symtab.PatchList (bound to a *symtab.Registry) is the
// concrete implementation this runtime uses.
type Patch interface {
	// Merge folds other into this Patch. Both values must have been
	// produced by the same Handler implementation; a Merge call across
	// incompatible Patch implementations may panic.
	Merge(other Patch)
	// Apply commits every staged change and clears the Patch.
	Apply() error
}
