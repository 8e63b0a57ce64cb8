// Package filekey defines FileKey, the value type that unifies looking up
// an asset by textual path, by numeric FileDataID, or by both.
package filekey

import (
	"strconv"
	"strings"
)

// pathLookup is the subset of *listfile.Listfile that FileKey needs for
// deduction. It is defined here rather than imported from the listfile
// package so filekey has no dependency on it — any type with the same two
// methods (in practice, always *listfile.Listfile) satisfies it.
type pathLookup interface {
	GetFDID(path string) uint32
	GetPath(id uint32) []byte
}

// FileKey is a value-type pair of an optional FileDataID and an optional
// path. FDID 0 is the sentinel for "absent ID"; an empty path is "absent
// path". At least one component must be present for a key to be usable; the
// zero value is a legal placeholder only.
//
// FileKey carries no reference back to any Listfile: deduction (DeduceOther)
// is a one-shot query performed at construction or on demand, never stored.
type FileKey struct {
	fdid uint32
	path string // already normalized, or "" if absent
}

// FromPath builds a FileKey from a path, normalizing it first. If lf is
// non-nil, FromPath attempts to deduce the matching FDID from it.
func FromPath(path string, lf pathLookup) FileKey {
	k := FileKey{path: Normalize(path)}
	if lf != nil {
		k.DeduceOther(lf)
	}
	return k
}

// FromFDID builds a FileKey from a FileDataID. If lf is non-nil, FromFDID
// attempts to deduce the matching path from it.
func FromFDID(id uint32, lf pathLookup) FileKey {
	k := FileKey{fdid: id}
	if lf != nil {
		k.DeduceOther(lf)
	}
	return k
}

// FromBoth builds a FileKey carrying both a path (normalized) and an ID,
// verbatim — no deduction is attempted.
func FromBoth(path string, id uint32) FileKey {
	return FileKey{fdid: id, path: Normalize(path)}
}

// Normalize returns the internal form of a path: lowercase ASCII,
// backslash converted to forward slash, and a trailing ".mdx" or ".mdl"
// replaced with ".m2" (model-format unification — .mdx/.mdl are aliases of
// .m2 at this layer only; the listfile itself is left unchanged).
//
// Normalize is idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(path string) string {
	b := []byte(strings.ToLower(path))
	for i, c := range b {
		if c == '\\' {
			b[i] = '/'
		}
	}
	if hasSuffixFold(b, ".mdx") || hasSuffixFold(b, ".mdl") {
		b = append(b[:len(b)-4], ".m2"...)
	}
	return string(b)
}

func hasSuffixFold(b []byte, suffix string) bool {
	if len(b) < len(suffix) {
		return false
	}
	return string(b[len(b)-len(suffix):]) == suffix
}

// HasFDID reports whether the key carries a FileDataID component.
func (k FileKey) HasFDID() bool { return k.fdid != 0 }

// HasPath reports whether the key carries a path component.
func (k FileKey) HasPath() bool { return k.path != "" }

// FDID returns the key's FileDataID component, or 0 if absent.
func (k FileKey) FDID() uint32 { return k.fdid }

// Path returns the key's path component, or "" if absent.
func (k FileKey) Path() string { return k.path }

// Valid reports whether the key carries at least one component. The zero
// value is not Valid.
func (k FileKey) Valid() bool { return k.HasFDID() || k.HasPath() }

// DeduceOther fills in whichever of (FDID, path) is missing by querying lf,
// provided exactly one component is present. It never overwrites an
// already-present component. It returns true if a component was filled in
// (or nothing needed filling), false if deduction was attempted and failed.
func (k *FileKey) DeduceOther(lf pathLookup) bool {
	switch {
	case k.HasFDID() && k.HasPath():
		return true
	case k.HasFDID():
		path := lf.GetPath(k.fdid)
		if len(path) == 0 {
			return false
		}
		k.path = string(path)
		return true
	case k.HasPath():
		id := lf.GetFDID(k.path)
		if id == 0 {
			return false
		}
		k.fdid = id
		return true
	default:
		return false
	}
}

// Equal implements the spec's deliberately asymmetric equality: if both
// keys have an FDID, only the FDIDs are compared; else if both have a
// path, only the paths are compared; otherwise the keys are unequal even
// if, after deduction, they would name the same asset.
func (k FileKey) Equal(o FileKey) bool {
	switch {
	case k.HasFDID() && o.HasFDID():
		return k.fdid == o.fdid
	case k.HasPath() && o.HasPath():
		return k.path == o.path
	default:
		return false
	}
}

// Less implements the same dispatch as Equal: by FDID when both keys have
// one, else by path when both have one, else the keys are incomparable and
// Less reports false.
func (k FileKey) Less(o FileKey) bool {
	switch {
	case k.HasFDID() && o.HasFDID():
		return k.fdid < o.fdid
	case k.HasPath() && o.HasPath():
		return k.path < o.path
	default:
		return false
	}
}

// String returns the path if present, else the decimal FDID.
func (k FileKey) String() string {
	if k.HasPath() {
		return k.path
	}
	return strconv.FormatUint(uint64(k.fdid), 10)
}
