package dirarchive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/locale"
)

func TestReadExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "world", "maps"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "world", "maps", "azeroth.wdt"), []byte("wdt-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	arc := New(dir, nil)
	key := filekey.FromPath("world/maps/azeroth.wdt", nil)

	if !arc.Exists(key, locale.EnUS) {
		t.Fatal("Exists = false, want true")
	}
	h, ok := arc.Open(key, locale.EnUS)
	if !ok {
		t.Fatal("Open = false, want true")
	}
	buf := make([]byte, h.Size())
	h.Read(buf)
	if string(buf) != "wdt-bytes" {
		t.Fatalf("content = %q, want wdt-bytes", buf)
	}
}

func TestMissingFile(t *testing.T) {
	arc := New(t.TempDir(), nil)
	key := filekey.FromPath("nope.blp", nil)
	if arc.Exists(key, locale.EnUS) {
		t.Fatal("Exists = true for a missing file")
	}
}

func TestNotPatchable(t *testing.T) {
	arc := New(t.TempDir(), nil)
	if err := arc.PatchApply(arc, "base"); err == nil {
		t.Fatal("expected ErrNotPatchable")
	}
}

func TestSameDir(t *testing.T) {
	dir := t.TempDir()
	if !SameDir(dir, dir) {
		t.Fatal("SameDir(dir, dir) = false, want true")
	}
	if !SameDir(dir, dir+string(filepath.Separator)) {
		t.Fatal("SameDir should tolerate a trailing separator")
	}
	if SameDir(dir, dir+"-other") {
		t.Fatal("SameDir matched two different directories")
	}
}
