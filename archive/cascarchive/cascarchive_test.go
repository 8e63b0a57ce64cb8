package cascarchive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/locale"
)

func newBuildInfo(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".build.info"), []byte("Branch!STRING:0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	newBuildInfo(t, root)

	path := "world/maps/azeroth/azeroth.adt"
	if err := Put(root, path, []byte("adt-bytes")); err != nil {
		t.Fatal(err)
	}

	arc, err := NewLocal(root, "", nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	key := filekey.FromPath(path, nil)
	if !arc.Exists(key, locale.EnUS) {
		t.Fatal("Exists = false, want true")
	}
	h, ok := arc.Open(key, locale.EnUS)
	if !ok {
		t.Fatal("Open = false, want true")
	}
	buf := make([]byte, h.Size())
	h.Read(buf)
	if string(buf) != "adt-bytes" {
		t.Fatalf("content = %q, want adt-bytes", buf)
	}
}

func TestRemoteModeFallsBackToCDNCache(t *testing.T) {
	root := t.TempDir()
	newBuildInfo(t, root)
	cdnCache := t.TempDir()

	path := "interface/icons/spell_fire_fire.blp"
	if err := Put(cdnCache, path, []byte("cdn-bytes")); err != nil {
		t.Fatal(err)
	}

	arc, err := NewLocal(root, cdnCache, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	key := filekey.FromPath(path, nil)
	if !arc.Exists(key, locale.EnUS) {
		t.Fatal("Exists = false, want true (should fall back to CDN cache)")
	}
	h, ok := arc.Open(key, locale.EnUS)
	if !ok {
		t.Fatal("Open = false, want true")
	}
	buf := make([]byte, h.Size())
	h.Read(buf)
	if string(buf) != "cdn-bytes" {
		t.Fatalf("content = %q, want cdn-bytes", buf)
	}
}

func TestLocalModeDoesNotConsultCDNCache(t *testing.T) {
	root := t.TempDir()
	newBuildInfo(t, root)
	cdnCache := t.TempDir()

	path := "only/in/cdn.blp"
	if err := Put(cdnCache, path, []byte("x")); err != nil {
		t.Fatal(err)
	}

	arc, err := NewLocal(root, "", nil) // local mode: empty cdnCachePath
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	key := filekey.FromPath(path, nil)
	if arc.Exists(key, locale.EnUS) {
		t.Fatal("local mode must not consult a CDN cache it wasn't given")
	}
}

// TestEncodingKeyStable is S8: the same path always yields the same key,
// and distinct fixture paths yield distinct keys.
func TestEncodingKeyStable(t *testing.T) {
	paths := []string{
		"world/maps/azeroth/azeroth.adt",
		"interface/icons/spell_fire_fire.blp",
		"creature/rat/rat.m2",
	}
	seen := map[string]string{}
	for _, p := range paths {
		k1 := EncodingKey(p)
		k2 := EncodingKey(p)
		if k1 != k2 {
			t.Fatalf("EncodingKey(%q) not stable: %q vs %q", p, k1, k2)
		}
		if other, ok := seen[k1]; ok {
			t.Fatalf("EncodingKey collision between %q and %q", p, other)
		}
		seen[k1] = p
	}
}

func TestMissingBuildInfo(t *testing.T) {
	if _, err := NewLocal(t.TempDir(), "", nil); err == nil {
		t.Fatal("expected an error when .build.info is missing")
	}
}

func TestNotPatchable(t *testing.T) {
	root := t.TempDir()
	newBuildInfo(t, root)
	arc, _ := NewLocal(root, "", nil)
	if err := arc.PatchApply(arc, "base"); err == nil {
		t.Fatal("expected ErrNotPatchable")
	}
}
