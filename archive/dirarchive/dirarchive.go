// Package dirarchive implements archive.Backend over a plain directory,
// used both for loose-file mounts discovered by the pre-Cataclysm MPQ
// stack builder and for the project mirror directory that overrides
// archive contents when present on disk.
package dirarchive

import (
	"os"
	"path/filepath"

	cdarchive "github.com/icza/clientdata/archive"
	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// Archive is an archive.Backend backed by a directory on disk.
type Archive struct {
	root string
	lf   *listfile.Listfile
}

// New returns a directory-backed Archive rooted at root. lf may be nil (an
// Archive with no shared Listfile can only serve keys that already carry a
// path).
func New(root string, lf *listfile.Listfile) *Archive {
	return &Archive{root: root, lf: lf}
}

// SameDir reports whether a and b name the same directory on disk, used by
// the pre-Cataclysm stack builder to skip a candidate equivalent to the
// project's mirror directory. It compares resolved os.Stat identity when
// both paths exist, falling back to a cleaned-path string comparison when
// one or both don't (a not-yet-existing path can't be Stat-compared).
func SameDir(a, b string) bool {
	ca, cb := filepath.Clean(a), filepath.Clean(b)
	sa, errA := os.Stat(ca)
	sb, errB := os.Stat(cb)
	if errA == nil && errB == nil {
		return os.SameFile(sa, sb)
	}
	return ca == cb
}

// SetListfile implements archive.ListfileAware.
func (a *Archive) SetListfile(lf *listfile.Listfile) {
	a.lf = lf
}

func (a *Archive) resolvePath(key filekey.FileKey) (string, bool) {
	if key.HasPath() {
		return key.Path(), true
	}
	if a.lf == nil {
		return "", false
	}
	k := key
	if !k.DeduceOther(a.lf) {
		return "", false
	}
	return k.Path(), k.HasPath()
}

func (a *Archive) diskPath(path string) string {
	return filepath.Join(a.root, filepath.FromSlash(path))
}

// Exists implements archive.Backend.
func (a *Archive) Exists(key filekey.FileKey, loc locale.Locale) bool {
	path, ok := a.resolvePath(key)
	if !ok {
		return false
	}
	_, err := os.Stat(a.diskPath(path))
	return err == nil
}

// Open implements archive.Backend.
func (a *Archive) Open(key filekey.FileKey, loc locale.Locale) (cdarchive.Handle, bool) {
	path, ok := a.resolvePath(key)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(a.diskPath(path))
	if err != nil {
		return nil, false
	}
	return &handle{data: data}, true
}

// PatchApply implements archive.Backend. A loose-file directory is always
// appended as its own independent stack entry (per spec §4.4); folding
// into a patch chain is an MPQ-only, post-Cataclysm-only mechanism.
func (a *Archive) PatchApply(other cdarchive.Backend, prefix string) error {
	return cdarchive.ErrNotPatchable
}

// Close implements archive.Backend. A directory backend owns no resources.
func (a *Archive) Close() error { return nil }

type handle struct{ data []byte }

func (h *handle) Size() uint64 { return uint64(len(h.data)) }

func (h *handle) Read(buf []byte) bool {
	if len(buf) != len(h.data) {
		return false
	}
	copy(buf, h.data)
	return true
}

func (h *handle) Close() bool { return true }
