package listfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	// S1: Listfile round-trip.
	csv := "125252;World\\Maps\\Azeroth\\Azeroth.wdt\n53040;Interface/ICONS/Spell_Fire_Fire.blp\n"
	lf, err := New(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, uint32(125252), lf.GetFDID("world/maps/azeroth/azeroth.wdt"))
	assert.Equal(t, "interface/icons/spell_fire_fire.blp", string(lf.GetPath(53040)))
}

func TestInvariantPathRoundTrip(t *testing.T) {
	// Invariant 1: get_path(get_fdid(p)) == p for paths present in the listfile.
	csv := "1;a/b/c.blp\n2;d/e/f.m2\n"
	lf, err := New(strings.NewReader(csv))
	require.NoError(t, err)
	for _, p := range []string{"a/b/c.blp", "d/e/f.m2"} {
		id := lf.GetFDID(p)
		assert.Equal(t, p, string(lf.GetPath(id)))
	}
}

func TestInvariantIDRoundTrip(t *testing.T) {
	// Invariant 2: get_fdid(get_path(i)) == i for ids present in the listfile.
	csv := "7;foo.blp\n9;bar.blp\n"
	lf, err := New(strings.NewReader(csv))
	require.NoError(t, err)
	for _, id := range []uint32{7, 9} {
		path := string(lf.GetPath(id))
		assert.Equal(t, id, lf.GetFDID(path))
	}
}

func TestDuplicatePathsFirstWriterWins(t *testing.T) {
	// Invariant 4.
	csv := "1;dup.blp\n2;dup.blp\n"
	lf, err := New(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lf.GetFDID("dup.blp"), "first writer wins")
	assert.Equal(t, 1, lf.Len())
}

func TestNormalizationPreservesUnrelatedBytes(t *testing.T) {
	// Invariant 3: bytes outside {A-Z, backslash, CR, LF} pass through unchanged.
	csv := "1;caf\xc3\xa9/na\xc3\xafve.blp\n"
	lf, err := New(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lf.GetFDID("caf\xc3\xa9/na\xc3\xafve.blp"), "non-ASCII bytes were altered by normalization")
}

func TestNormalizationIdempotent(t *testing.T) {
	in := []byte("ABC\\Def\r\nGHI")
	blob := make([]byte, alignedBlobSize(len(in)))
	copy(blob, in)
	normalizeInPlace(blob)
	once := append([]byte(nil), blob...)
	normalizeInPlace(blob)
	assert.Equal(t, string(once), string(blob), "normalizeInPlace is not idempotent")
}

func TestFromBufferMembershipSet(t *testing.T) {
	raw := []byte("Creature\\Rat\\Rat.mdx\nworld/maps/x.wdt\n")
	lf, err := NewFromBuffer(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lf.GetFDID("creature/rat/rat.mdx"), "membership set carries no FDIDs")
	assert.Equal(t, 2, lf.Len())
}

func TestMissingLookups(t *testing.T) {
	lf, err := New(strings.NewReader("1;present.blp\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lf.GetFDID("absent.blp"))
	assert.Nil(t, lf.GetPath(999))
}

func TestNewFromFileNotFound(t *testing.T) {
	_, err := NewFromFile("/nonexistent/path/to/listfile.csv")
	assert.Error(t, err)
}
