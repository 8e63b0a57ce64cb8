// Package listfile owns the normalized text blob that maps between textual
// asset paths and 32-bit FileDataIDs.
//
// A Listfile allocates exactly one byte blob at construction, normalizes it
// in place, and then indexes it into two maps that both borrow slices of
// that same blob rather than copying path text a second time. The blob is
// immutable after construction and the borrowed slices (returned by
// GetPath) remain valid for the Listfile's lifetime.
//
// Design decisions
//
// The path->FDID map is keyed by a string built with package unsafe over
// the blob's own bytes rather than a freshly allocated string, and the
// FDID->path map stores the matching []byte subslice of the same blob.
// Both therefore alias the identical backing array for a given path: a
// GetFDID followed by GetPath of the returned ID yields a slice sharing
// storage with the original lookup key, not merely an equal copy. This is
// the "self-referential structure / stable-address arena" approach
// described for this component: the blob never relocates after
// construction, which is what makes the aliasing safe.
package listfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"
)

// Sentinel errors for Listfile construction, matching the error kinds this
// module's callers distinguish on.
var (
	// ErrNotFound is returned when a CSV listfile path does not resolve to
	// a readable file.
	ErrNotFound = errors.New("listfile: not found")
)

// Listfile is a bi-directional path<->FileDataID index backed by one owned
// byte blob. The zero value is not usable; construct with New or
// NewFromBuffer.
type Listfile struct {
	blob       []byte
	pathToFDID map[string]uint32
	fdidToPath map[uint32][]byte
}

// New builds a Listfile from a CSV reader whose lines are
// "<uint32 id>;<relative path>" terminated by '\n' or "\r\n" (the format
// shipped alongside CASC-era clients).
func New(r io.Reader) (*Listfile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("listfile: read: %w", err)
	}
	return buildListfile(raw, true)
}

// NewFromFile opens path and delegates to New. It returns ErrNotFound
// (wrapping the underlying *PathError) if path cannot be opened.
func NewFromFile(path string) (*Listfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	defer f.Close()
	return New(bufio.NewReader(f))
}

// NewFromBuffer builds a Listfile from a raw, ID-less buffer of
// '\n'-separated paths — the form of listfile embedded inside the first
// MPQ of a pre-CASC client. Every path is indexed with FDID 0, so the
// result is effectively a membership set rather than a bi-map; GetFDID
// always returns 0 for paths recovered this way.
//
// raw is copied into the Listfile's own blob; ownership of raw is not
// transferred and the caller may reuse or discard it immediately after
// this call returns (see DESIGN.md Open Question 1).
func NewFromBuffer(raw []byte) (*Listfile, error) {
	return buildListfile(raw, false)
}

func buildListfile(raw []byte, hasIDs bool) (*Listfile, error) {
	blob := make([]byte, alignedBlobSize(len(raw)))
	copy(blob, raw)
	normalizeInPlace(blob)

	records := countRecords(blob)
	lf := &Listfile{
		blob:       blob,
		pathToFDID: make(map[string]uint32, records),
		fdidToPath: make(map[uint32][]byte, records),
	}
	if hasIDs {
		lf.indexCSV()
	} else {
		lf.indexRaw()
	}
	return lf, nil
}

// countRecords returns the number of null-terminated records in blob, used
// to pre-size both index maps.
func countRecords(blob []byte) int {
	n := 0
	inRecord := false
	for _, b := range blob {
		if b == 0 {
			if inRecord {
				n++
				inRecord = false
			}
			continue
		}
		inRecord = true
	}
	if inRecord {
		n++
	}
	return n
}

// indexCSV walks blob splitting "<id>;<path>\0" records in place: the
// semicolon is overwritten with a null so the record becomes two
// null-terminated substrings sharing the blob's storage. First writer
// wins on duplicate paths.
func (lf *Listfile) indexCSV() {
	blob := lf.blob
	n := len(blob)
	current := 0
	for current < n {
		if blob[current] == 0 {
			current++
			continue
		}
		semicolon := -1
		forward := current
		for forward < n && blob[forward] != 0 {
			if semicolon == -1 && blob[forward] == ';' {
				semicolon = forward
			}
			forward++
		}
		if semicolon >= 0 {
			blob[semicolon] = 0
			idText := blob[current:semicolon]
			path := blob[semicolon+1 : forward]
			lf.insert(path, parseUint32(idText))
		}
		current = forward + 1
	}
}

// indexRaw walks blob treating every null-terminated record as a bare path
// mapped to FDID 0.
func (lf *Listfile) indexRaw() {
	blob := lf.blob
	n := len(blob)
	current := 0
	for current < n {
		if blob[current] == 0 {
			current++
			continue
		}
		forward := current
		for forward < n && blob[forward] != 0 {
			forward++
		}
		lf.insert(blob[current:forward], 0)
		current = forward + 1
	}
}

// insert records path -> id and id -> path, first writer wins for a given
// path (duplicate CSV rows after the first are silently ignored).
func (lf *Listfile) insert(path []byte, id uint32) {
	if len(path) == 0 {
		return
	}
	key := bytesToString(path)
	if _, exists := lf.pathToFDID[key]; exists {
		return
	}
	lf.pathToFDID[key] = id
	lf.fdidToPath[id] = path
}

// GetFDID returns the FileDataID mapped to path, or 0 if path is absent.
// path must already be normalized (lowercase, forward slashes); GetFDID
// does not renormalize its argument.
func (lf *Listfile) GetFDID(path string) uint32 {
	return lf.pathToFDID[path]
}

// GetPath returns the path mapped to id as a slice borrowed from the
// Listfile's blob, or nil if id is absent. The returned slice is valid for
// the Listfile's lifetime and must not be modified.
func (lf *Listfile) GetPath(id uint32) []byte {
	return lf.fdidToPath[id]
}

// Len returns the number of distinct paths indexed.
func (lf *Listfile) Len() int {
	return len(lf.pathToFDID)
}

// Each calls fn once per indexed (id, path) pair in unspecified order,
// stopping early if fn returns false. It is a debug/tooling enumerator;
// no package in this module calls it, and it is not intended for use on
// any read hot path.
func (lf *Listfile) Each(fn func(id uint32, path []byte) bool) {
	for id, path := range lf.fdidToPath {
		if !fn(id, path) {
			return
		}
	}
}

// parseUint32 parses a run of ASCII decimal digits into a uint32. Leading
// whitespace and signs are not expected in the CSV format; any non-digit
// byte (including an empty slice) yields 0, matching the "invalid input
// yields 0" contract rather than returning an error.
func parseUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + uint32(c-'0')
	}
	return v
}

// bytesToString produces a string sharing b's backing array instead of
// copying it, so the path<->FDID maps alias the same blob storage as
// described in the package doc. b must outlive the returned string, which
// holds for every call site here since b is always a subslice of the
// Listfile's own immutable blob.
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
