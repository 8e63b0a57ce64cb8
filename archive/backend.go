// Package archive defines the contract every physical archive
// implementation must satisfy so that ClientData can treat an MPQ file, a
// CASC repository, and a plain mirror directory uniformly.
//
// Design decisions
//
// The set of operations is intentionally small and closed (Exists, Open,
// and the Handle methods it returns): a backend needs nothing else to
// serve a read. PatchApply is the one operation that is not part of every
// backend's identity — only the post-Cataclysm MPQ stack builder calls it,
// and most backends correctly reject it with ErrNotPatchable. Backends are
// not required to be internally concurrent; ClientData serializes all
// access behind one mutex (see the root package), so implementations may
// assume single-goroutine access to Open/Exists/Close at any given moment.
package archive

import (
	"errors"

	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// Sentinel errors for archive backends.
var (
	// ErrNotPatchable is returned by PatchApply when a backend cannot act
	// as a patch-chain base (directory mounts, CASC archives).
	ErrNotPatchable = errors.New("archive: backend does not support patch chains")

	// ErrUnsupportedCompression names a file storage method (PKWare
	// implode, multi-algorithm combinations) that a backend does not
	// decode. Backend.Open reports such files only as ok=false, so this
	// value is not returned through the Backend interface.
	ErrUnsupportedCompression = errors.New("archive: unsupported compression method")
)

// Handle is a short-lived reference to an open file within a Backend.
// Handles obtained from one Backend are never portable to another, and
// must not outlive the Open/Read/Close sequence that produced them.
type Handle interface {
	// Size returns the file's uncompressed size in bytes.
	Size() uint64

	// Read fills buf (which is exactly Size() bytes long) with the file's
	// content. It returns false on any I/O or format error.
	Read(buf []byte) bool

	// Close releases the handle's resources. It returns false to signal a
	// programmer-error-grade inconsistency (e.g. double close); callers
	// treat a false result as an assertion failure in debug builds, never
	// as a reason to retry.
	Close() bool
}

// Backend is the uniform contract every physical archive implementation
// satisfies.
type Backend interface {
	// Exists reports whether key resolves to a file in this backend under
	// the given locale.
	Exists(key filekey.FileKey, loc locale.Locale) bool

	// Open resolves key to a Handle, or reports ok=false if the backend
	// cannot serve it (key not found, or requires a locale the backend
	// doesn't carry).
	Open(key filekey.FileKey, loc locale.Locale) (h Handle, ok bool)

	// PatchApply attaches other as a patch overlay of this backend, tagged
	// with prefix ("base" for non-locale templates, the locale code for
	// locale templates — see the root package's post-Cataclysm stack
	// builder). Most backends return ErrNotPatchable.
	PatchApply(other Backend, prefix string) error

	// Close releases the backend's resources. Backends are closed in
	// reverse stack order when their owning ClientData is closed.
	Close() error
}

// ListfileAware is implemented by backends that can be handed a shared
// Listfile after construction. This is needed only for the MPQ-era
// bootstrap sequence, where the Listfile itself is discovered by reading
// an "(listfile)" member out of the first MPQ in the stack — the backends
// must already exist to do that read, so they cannot all receive the
// Listfile in their constructor the way CASC-era backends do.
type ListfileAware interface {
	SetListfile(lf *listfile.Listfile)
}
