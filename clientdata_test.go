package clientdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icza/clientdata/archive"
	"github.com/icza/clientdata/archive/dirarchive"
	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// writeFile creates path (and its parent directories) containing data.
func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// TestCASCRequiresExplicitLocale covers S5: CASC-era clients reject AUTO
// and accept a concrete locale.
func TestCASCRequiresExplicitLocale(t *testing.T) {
	dir := t.TempDir()

	_, err := validateLocale(locale.WoD, locale.AUTO, dir)
	require.Error(t, err)
	assert.IsType(t, &IncorrectLocaleModeError{}, err)

	resolved, err := validateLocale(locale.WoD, locale.EnUS, dir)
	require.NoError(t, err)
	assert.Equal(t, locale.EnUS, resolved)
}

// TestUnknownFDIDDiskPath covers S6: a FileKey with an unresolvable
// FileDataID and no Listfile falls back to <project>/unknown_files/<id>.
func TestUnknownFDIDDiskPath(t *testing.T) {
	project := t.TempDir()
	cd := &ClientData{projectPath: project, resolved: locale.EnUS}

	key := filekey.FromFDID(424242, nil)
	assert.Equal(t, filepath.Join(project, "unknown_files", "424242"), cd.DiskPath(key))
}

// TestExistsOnDiskIgnoresListfileResolvableID guards against a
// regression where an ID-only FileKey whose FileDataID the Listfile
// could resolve to a path was allowed to fall through to that resolved
// path and be os.Stat'd. ExistsOnDisk must report false for any key
// lacking a path component, even when the Listfile knows the path and
// that path exists on disk.
func TestExistsOnDiskIgnoresListfileResolvableID(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "interface", "icon.blp"), []byte("icon"))

	lf, err := listfile.New(strings.NewReader("424242;interface/icon.blp\n"))
	require.NoError(t, err)

	cd := &ClientData{
		resolved:    locale.EnUS,
		projectPath: project,
		listfile:    lf,
	}

	key := filekey.FromFDID(424242, nil)
	assert.False(t, cd.ExistsOnDisk(key), "ExistsOnDisk must be false for an ID-only key even though the listfile resolves it to a path present on disk")
	assert.False(t, cd.Exists(key), "Exists must not short-circuit to true via listfile resolution when no backend carries the file")
}

// TestStackWalkReturnsHighestIndexedBackend covers invariant 6: Read walks
// the overlay stack newest-first, so the last backend's content wins.
func TestStackWalkReturnsHighestIndexedBackend(t *testing.T) {
	lowDir, highDir := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(lowDir, "world", "map.wdt"), []byte("old"))
	writeFile(t, filepath.Join(highDir, "world", "map.wdt"), []byte("new"))

	cd := &ClientData{
		resolved: locale.EnUS,
		backends: []archive.Backend{
			dirarchive.New(lowDir, nil),
			dirarchive.New(highDir, nil),
		},
	}

	key := filekey.FromBoth("world/map.wdt", 0)
	buf, ok := cd.Read(key)
	require.True(t, ok, "expected Read to succeed")
	assert.Equal(t, "new", string(buf), "highest-indexed backend should win")
}

// TestExistsIsMirrorOrAnyBackend covers invariant 7: Exists reports true if
// either the disk mirror or any backend in the stack carries the file.
func TestExistsIsMirrorOrAnyBackend(t *testing.T) {
	project := t.TempDir()
	backendDir := t.TempDir()
	writeFile(t, filepath.Join(backendDir, "interface", "icon.blp"), []byte("icon"))

	cd := &ClientData{
		resolved:    locale.EnUS,
		projectPath: project,
		backends:    []archive.Backend{dirarchive.New(backendDir, nil)},
	}

	archiveOnly := filekey.FromBoth("interface/icon.blp", 0)
	assert.True(t, cd.Exists(archiveOnly), "expected Exists true for a file present only in the backend stack")

	mirrorOnly := filekey.FromBoth("sound/effect.ogg", 0)
	writeFile(t, filepath.Join(project, "sound", "effect.ogg"), []byte("sound"))
	assert.True(t, cd.Exists(mirrorOnly), "expected Exists true for a file present only in the disk mirror")

	neither := filekey.FromBoth("does/not/exist.txt", 0)
	assert.False(t, cd.Exists(neither), "expected Exists false when neither mirror nor any backend carries the file")
}

// TestReadIgnoresMirrorExistsConsultsIt covers DESIGN.md Open Question 3:
// Exists is mirror-first, but Read never consults the disk mirror at all —
// only the backend stack. A file present solely in the mirror therefore
// "exists" but cannot be read.
func TestReadIgnoresMirrorExistsConsultsIt(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "data", "only_on_disk.txt"), []byte("mirror-only"))

	cd := &ClientData{
		resolved:    locale.EnUS,
		projectPath: project,
		// no backends carry this file at all
	}

	key := filekey.FromBoth("data/only_on_disk.txt", 0)

	assert.True(t, cd.Exists(key), "expected Exists true: the disk mirror carries the file")
	_, ok := cd.Read(key)
	assert.False(t, ok, "expected Read to fail: Read never consults the disk mirror, only the backend stack")
}
