// Package cascarchive implements archive.Backend over a simplified,
// content-addressed model of CASC, the storage system used by every
// client generation from Warlords of Draenor onward.
//
// The full CASC wire format (.build.info, the binary encoding file, CDN
// config manifests) is out of this module's scope — spec.md places the
// CASC storage driver among the "external collaborators, specified only
// by the interface the core consumes." What this package does implement,
// so the stack-building and read-path algorithms in the root package have
// a real collaborator to exercise, is the essential shape of CASC lookup:
// a path resolves to a content-addressed key, and the key resolves to a
// single-chunk BLTE-style compressed blob on disk (locally, or under a CDN
// cache directory for remote mode).
package cascarchive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"
	"github.com/opencontainers/go-digest"

	cdarchive "github.com/icza/clientdata/archive"
	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// keyHexLen is the number of hex characters (16 bytes) used to name
// content files on disk — standing in for CASC's real, shorter encoding
// keys without parsing the binary encoding file this module doesn't
// implement.
const keyHexLen = 32

// blteModeZlib marks a stored blob as single-chunk, zlib-compressed —
// the one BLTE chunk mode this package supports, paralleling
// archive/mpqarchive's equally partial compression support.
const blteModeZlib = 'Z'

// Archive is an archive.Backend over a local (and optionally CDN-cached)
// content-addressed CASC-like store.
type Archive struct {
	root         string
	cdnCachePath string // empty for local mode
	lf           *listfile.Listfile
}

// NewLocal constructs a CASC backend rooted at path. cdnCachePath is empty
// for local mode; a non-empty cdnCachePath puts the archive in remote
// mode, consulting the CDN cache directory as a secondary lookup root
// after the local store misses. No network fetch is performed — CDN
// fetching is out of scope (spec.md §1); a remote-mode miss in both roots
// is reported exactly like a local-mode miss.
func NewLocal(path, cdnCachePath string, lf *listfile.Listfile) (*Archive, error) {
	if _, err := os.Stat(filepath.Join(path, ".build.info")); err != nil {
		return nil, fmt.Errorf("cascarchive: %s: missing .build.info: %w", path, err)
	}
	return &Archive{root: path, cdnCachePath: cdnCachePath, lf: lf}, nil
}

// EncodingKey returns the content-addressing key this backend derives for
// a normalized path: a truncated sha256 digest, standing in for a real
// CASC encoding key. The same path always yields the same key within (and
// across) Archive instances; different paths yield different keys with
// overwhelming probability.
func EncodingKey(normalizedPath string) string {
	d := digest.FromString(normalizedPath)
	return d.Encoded()[:keyHexLen]
}

func dataPath(root, key string) string {
	return filepath.Join(root, "Data", "data", key[:2], key)
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

// locate returns the on-disk path actually holding the blob for key, and
// whether it exists in either the local store or (remote mode only) the
// CDN cache.
func (a *Archive) locate(key filekey.FileKey) (string, bool) {
	path, ok := a.resolvePath(key)
	if !ok {
		return "", false
	}
	ek := EncodingKey(path)

	p := dataPath(a.root, ek)
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	if a.cdnCachePath != "" {
		p = dataPath(a.cdnCachePath, ek)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Exists implements archive.Backend.
func (a *Archive) Exists(key filekey.FileKey, loc locale.Locale) bool {
	_, ok := a.locate(key)
	return ok
}

// Open implements archive.Backend.
func (a *Archive) Open(key filekey.FileKey, loc locale.Locale) (cdarchive.Handle, bool) {
	p, ok := a.locate(key)
	if !ok {
		return nil, false
	}
	raw, err := os.ReadFile(p)
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	if raw[0] != blteModeZlib {
		return nil, false
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw[1:]))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return &handle{data: data}, true
}

// PatchApply implements archive.Backend. CASC has no patch-chain concept
// in this module's scope.
func (a *Archive) PatchApply(other cdarchive.Backend, prefix string) error {
	return cdarchive.ErrNotPatchable
}

// Close implements archive.Backend. A CASC backend owns no long-lived
// resources beyond what Open/Close already release per call.
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

// Put writes content under root addressed by normalizedPath's encoding
// key, BLTE-'Z'-encoding it with zlib. It is a fixture/tooling helper for
// building a local CASC-like store (e.g. in tests) — not part of
// archive.Backend, and not used by any read path: the core performs no
// writes to archives (spec.md §1 Non-goals).
func Put(root, normalizedPath string, content []byte) error {
	ek := EncodingKey(normalizedPath)
	p := dataPath(root, ek)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteByte(blteModeZlib)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(p, buf.Bytes(), 0o644)
}
