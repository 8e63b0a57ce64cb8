// Package mpqarchive implements archive.Backend over Blizzard's MPQ
// archive format, the hash-indexed format used by every pre-Warlords-of-
// Draenor client generation.
//
// The header/hash-table/block-table parsing in this file is adapted
// directly from the reference MPQ reader this module's author studied
// (struct-field-by-field binary.Read decoding, no reflection, the same
// beFlag* bit layout) and extended with the real hash/block table
// decryption and name-hash computation needed to resolve a path to file
// bytes, plus the post-Cataclysm patch-chain overlay this module's spec
// requires.
package mpqarchive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	cdarchive "github.com/icza/clientdata/archive"
	"github.com/icza/clientdata/filekey"
	"github.com/icza/clientdata/listfile"
	"github.com/icza/clientdata/locale"
)

// ErrInvalidArchive indicates the input is not a well-formed MPQ archive.
var ErrInvalidArchive = errors.New("mpqarchive: invalid MPQ archive")

// blockEntry.flags bitmask constants.
const (
	beFlagFile            = 0x80000000
	beFlagSingle          = 0x01000000
	beFlagExtra           = 0x04000000
	beFlagCompressed      = 0x0000FF00
	beFlagPKWare          = 0x00000100
	beFlagCompressedMulti = 0x00000200
	beFlagEncrypted       = 0x00010000
)

// compressMethodZlib is the multi-compression sub-method byte tag this
// backend knows how to decode; every other tag (PKWare implode, bzip2,
// sparse, ADPCM, ...) makes the read fail (Open/Exists report false), same
// as the reference reader's stance on formats it didn't implement either.
const compressMethodZlib = 0x02

var userDataMagic = [4]byte{'M', 'P', 'Q', 0x1b}
var headerMagic = [4]byte{'M', 'P', 'Q', 0x1a}

type userData struct {
	size         uint32
	headerOffset uint32
	data         []byte
}

type header struct {
	size                     uint32
	archiveSize              uint32
	formatVersion            uint16
	sectorSizeShift          uint16
	hashTableOffset          uint32
	blockTableOffset         uint32
	hashTableEntries         uint32
	blockTableEntries        uint32
	extendedBlockTableOffset uint64
	hashTableOffsetHigh      uint16
	blockTableOffsetHigh     uint16
}

type hashEntry struct {
	filePathHashA  uint32
	filePathHashB  uint32
	language       uint16
	platform       uint16
	fileBlockIndex uint32
}

type blockEntry struct {
	blockOffset uint32
	blockSize   uint32
	fileSize    uint32
	flags       uint32
}

// patchLayer is one archive chained onto a base archive's lookup by
// PatchApply, most-recently-applied last.
type patchLayer struct {
	prefix string
	arc    *Archive
}

// Archive is an archive.Backend over one physical MPQ file or stream.
type Archive struct {
	file  *os.File
	input io.ReadSeeker

	userData *userData
	header   header

	hashTable  []hashEntry
	blockTable []blockEntry

	extBlockEntryHighOffsets []uint16

	blockSize         uint32
	blockEntryIndices []int
	filesCount        uint32

	lf      *listfile.Listfile
	patches []patchLayer
}

// Open opens the MPQ file at name. lf may be nil (a backend with no shared
// Listfile can only serve keys that already carry a path).
func Open(name string, lf *listfile.Listfile) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	a := &Archive{file: f, input: f, lf: lf}
	if _, err := a.diveIn(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// New wraps an already-open io.ReadSeeker as an MPQ archive, e.g. a
// bytes.Reader over an in-memory or embedded archive.
func New(input io.ReadSeeker, lf *listfile.Listfile) (*Archive, error) {
	a := &Archive{input: input, lf: lf}
	return a.diveIn()
}

// diveIn parses the archive's header, hash table, and block table.
func (a *Archive) diveIn() (*Archive, error) {
	in := a.input

	var err error
	var magic [4]byte
	if _, err = io.ReadFull(in, magic[:]); err != nil {
		return nil, err
	}

	read := func(data interface{}) error {
		if err != nil {
			return err
		}
		err = binary.Read(in, binary.LittleEndian, data)
		return err
	}

	var headerOffset int64
	if magic == userDataMagic {
		u := userData{}
		read(&u.size)
		read(&u.headerOffset)
		if err == nil {
			u.data = make([]byte, u.size)
			_, err = io.ReadFull(in, u.data)
		}
		if err != nil {
			return nil, ErrInvalidArchive
		}
		a.userData = &u

		headerOffset = int64(u.headerOffset)
		if _, err = in.Seek(headerOffset, 0); err != nil {
			return nil, ErrInvalidArchive
		}
		if _, err = io.ReadFull(in, magic[:]); err != nil {
			return nil, err
		}
	}

	if magic != headerMagic {
		return nil, ErrInvalidArchive
	}

	h := header{}
	read(&h.size)
	read(&h.archiveSize)
	read(&h.formatVersion)
	read(&h.sectorSizeShift)
	read(&h.hashTableOffset)
	read(&h.blockTableOffset)
	read(&h.hashTableEntries)
	read(&h.blockTableEntries)
	if err != nil {
		return nil, ErrInvalidArchive
	}

	if h.formatVersion > 0 {
		read(&h.extendedBlockTableOffset)
		read(&h.hashTableOffsetHigh)
		read(&h.blockTableOffsetHigh)
	}
	if err != nil {
		return nil, ErrInvalidArchive
	}

	a.header = h
	a.blockSize = 512 << h.sectorSizeShift

	var buf []byte
	if h.hashTableEntries > h.blockTableEntries {
		buf = make([]byte, h.hashTableEntries*16)
	} else {
		buf = make([]byte, h.blockTableEntries*16)
	}

	if _, err = in.Seek(int64(h.hashTableOffsetHigh)<<32+int64(h.hashTableOffset)+headerOffset, 0); err != nil {
		return nil, ErrInvalidArchive
	}
	buf = buf[:h.hashTableEntries*16]
	if _, err = io.ReadFull(in, buf); err != nil {
		return nil, ErrInvalidArchive
	}
	decrypt(buf, hashString("(hash table)", hashTypeFileKey))
	a.hashTable = make([]hashEntry, h.hashTableEntries)
	r := bytes.NewReader(buf)
	for i := range a.hashTable {
		he := &a.hashTable[i]
		binary.Read(r, binary.LittleEndian, &he.filePathHashA)
		binary.Read(r, binary.LittleEndian, &he.filePathHashB)
		binary.Read(r, binary.LittleEndian, &he.language)
		binary.Read(r, binary.LittleEndian, &he.platform)
		binary.Read(r, binary.LittleEndian, &he.fileBlockIndex)
	}

	if _, err = in.Seek(int64(h.blockTableOffsetHigh)<<32+int64(h.blockTableOffset)+headerOffset, 0); err != nil {
		return nil, ErrInvalidArchive
	}
	buf = buf[:h.blockTableEntries*16]
	if _, err = io.ReadFull(in, buf); err != nil {
		return nil, ErrInvalidArchive
	}
	decrypt(buf, hashString("(block table)", hashTypeFileKey))
	a.blockTable = make([]blockEntry, h.blockTableEntries)
	r = bytes.NewReader(buf)
	for i := range a.blockTable {
		be := &a.blockTable[i]
		binary.Read(r, binary.LittleEndian, &be.blockOffset)
		binary.Read(r, binary.LittleEndian, &be.blockSize)
		binary.Read(r, binary.LittleEndian, &be.fileSize)
		binary.Read(r, binary.LittleEndian, &be.flags)
	}

	if h.extendedBlockTableOffset > 0 {
		if _, err = in.Seek(int64(h.extendedBlockTableOffset)+headerOffset, 0); err != nil {
			return nil, ErrInvalidArchive
		}
		a.extBlockEntryHighOffsets = make([]uint16, h.blockTableEntries)
		for i := range a.extBlockEntryHighOffsets {
			err = binary.Read(in, binary.LittleEndian, &a.extBlockEntryHighOffsets[i])
		}
		if err != nil {
			return nil, ErrInvalidArchive
		}
	}

	a.blockEntryIndices = make([]int, h.blockTableEntries)
	for i := range a.blockEntryIndices {
		if a.blockTable[i].flags&beFlagFile != 0 {
			a.blockEntryIndices[a.filesCount] = i
			a.filesCount++
		}
	}

	return a, nil
}

// SetListfile implements archive.ListfileAware, attaching a Listfile
// discovered after this Archive was already opened (the MPQ-era
// bootstrap: the Listfile itself is read out of the first archive in the
// stack via ReadInternalFile).
func (a *Archive) SetListfile(lf *listfile.Listfile) {
	a.lf = lf
}

// ReadInternalFile reads a member by its literal in-archive name, bypassing
// FileKey/Listfile resolution entirely. It exists only to bootstrap the
// embedded listfile ("(listfile)") before any Listfile is available; it is
// not part of archive.Backend and is not used on any regular read path.
func (a *Archive) ReadInternalFile(name string) ([]byte, bool) {
	return a.fileByNameLocal(name)
}

// resolvePath returns key's path, deducing it from the shared Listfile
// when key carries only a FileDataID. MPQ has no notion of numeric
// FileDataIDs of its own.
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

// Exists implements archive.Backend.
func (a *Archive) Exists(key filekey.FileKey, loc locale.Locale) bool {
	path, ok := a.resolvePath(key)
	if !ok {
		return false
	}
	if _, found := a.fileByPath(path); found {
		return true
	}
	return false
}

// Open implements archive.Backend.
func (a *Archive) Open(key filekey.FileKey, loc locale.Locale) (cdarchive.Handle, bool) {
	path, ok := a.resolvePath(key)
	if !ok {
		return nil, false
	}
	data, found := a.fileByPath(path)
	if !found {
		return nil, false
	}
	return &handle{data: data}, true
}

// PatchApply implements archive.Backend: other must itself be an
// *Archive. It is attached as a patch layer checked most-recently-applied
// first, per the post-Cataclysm overlay rule.
func (a *Archive) PatchApply(other cdarchive.Backend, prefix string) error {
	patch, ok := other.(*Archive)
	if !ok {
		return cdarchive.ErrNotPatchable
	}
	a.patches = append(a.patches, patchLayer{prefix: prefix, arc: patch})
	return nil
}

// Close implements archive.Backend.
func (a *Archive) Close() error {
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// fileByPath walks patch layers newest-first, then falls back to this
// archive's own table — the LWW overlay, scoped to one stack slot.
func (a *Archive) fileByPath(path string) ([]byte, bool) {
	for i := len(a.patches) - 1; i >= 0; i-- {
		p := a.patches[i]
		candidate := path
		if p.prefix != "base" {
			candidate = p.prefix + "/" + path
		}
		if data, found := p.arc.fileByNameLocal(candidate); found {
			return data, true
		}
		if data, found := p.arc.fileByNameLocal(path); found {
			return data, true
		}
	}
	return a.fileByNameLocal(path)
}

// fileByNameLocal resolves path within this archive only (no patch
// layers), adapted from the reference reader's FileByHash.
func (a *Archive) fileByNameLocal(path string) ([]byte, bool) {
	h1, h2, h3 := fileNameHash(path)
	return a.fileByHash(h1, h2, h3)
}

func (a *Archive) fileByHash(h1, h2, h3 uint32) ([]byte, bool) {
	hashTableEntries := a.header.hashTableEntries
	if hashTableEntries == 0 {
		return nil, false
	}
	var counter uint32

	for i := h1 & (hashTableEntries - 1); ; i++ {
		if i == hashTableEntries {
			i = 0
		}

		he := a.hashTable[i]
		if he.fileBlockIndex == 0xffffffff {
			break
		}
		if he.filePathHashA != h2 || he.filePathHashB != h3 {
			continue
		}

		for j := uint32(0); j < he.fileBlockIndex; j++ {
			if a.blockTable[j].flags&beFlagFile == 0 {
				counter++
			}
		}

		fileIndex := he.fileBlockIndex - counter
		if fileIndex >= a.filesCount {
			return nil, false
		}

		blockEntryIndex := a.blockEntryIndices[fileIndex]
		be := a.blockTable[blockEntryIndex]

		content, ok := a.readBlock(be, blockEntryIndex)
		if !ok {
			return nil, false
		}
		return content, true
	}

	return nil, false
}

func (a *Archive) readBlock(be blockEntry, blockEntryIndex int) ([]byte, bool) {
	var blockOffsetBase = int64(be.blockOffset)
	if a.extBlockEntryHighOffsets != nil {
		blockOffsetBase += int64(a.extBlockEntryHighOffsets[blockEntryIndex]) << 32
	}
	if a.userData != nil {
		blockOffsetBase += int64(a.userData.headerOffset)
	}

	var blocksCount uint32
	if be.flags&beFlagSingle != 0 {
		blocksCount = 1
	} else {
		blocksCount = (be.fileSize + a.blockSize - 1) / a.blockSize
	}

	temp := blocksCount + 1
	if be.flags&beFlagExtra != 0 {
		temp++
	}
	packedBlockOffsets := make([]uint32, temp)

	in := a.input
	var err error

	if be.flags&beFlagCompressed != 0 && be.flags&beFlagSingle == 0 {
		if _, err = in.Seek(blockOffsetBase, 0); err != nil {
			return nil, false
		}
		for k := range packedBlockOffsets {
			if err = binary.Read(in, binary.LittleEndian, &packedBlockOffsets[k]); err != nil {
				return nil, false
			}
		}
		if be.flags&beFlagEncrypted != 0 {
			return nil, false // block-offset table decryption isn't implemented
		}
	} else if be.flags&beFlagSingle == 0 {
		for k := uint32(0); k < blocksCount; k++ {
			packedBlockOffsets[k] = k * a.blockSize
		}
		packedBlockOffsets[blocksCount] = be.blockSize
	} else {
		packedBlockOffsets[0] = 0
		packedBlockOffsets[1] = be.blockSize
	}

	content := make([]byte, be.fileSize)
	var contentIndex uint32
	var inBuffer []byte

	for k := uint32(0); k < blocksCount; k++ {
		var unpackedSize uint32
		if be.flags&beFlagSingle != 0 {
			unpackedSize = be.fileSize
		} else if k < blocksCount-1 {
			unpackedSize = a.blockSize
		} else {
			unpackedSize = be.fileSize - a.blockSize*k
		}

		inSize := int(packedBlockOffsets[k+1] - packedBlockOffsets[k])
		if _, err = in.Seek(blockOffsetBase+int64(packedBlockOffsets[k]), 0); err != nil {
			return nil, false
		}

		if cap(inBuffer) >= inSize {
			inBuffer = inBuffer[:inSize]
		} else {
			inBuffer = make([]byte, inSize)
		}
		if _, err = io.ReadFull(in, inBuffer); err != nil {
			return nil, false
		}

		if be.flags&beFlagEncrypted != 0 {
			return nil, false // sector decryption isn't implemented
		}

		dst := content[contentIndex : contentIndex+unpackedSize]
		if be.flags&beFlagCompressedMulti != 0 {
			if !decompressSector(dst, inBuffer) {
				return nil, false
			}
		} else if be.flags&beFlagPKWare != 0 {
			return nil, false // PKWare implode isn't implemented
		} else {
			copy(dst, inBuffer)
		}

		contentIndex += unpackedSize
	}

	return content, true
}

// decompressSector decompresses a single multi-compression sector into
// dst. Only the zlib sub-method is implemented; any other leading method
// byte is reported as a failure, matching the teacher's own stance on
// compression methods it didn't implement either.
func decompressSector(dst, src []byte) bool {
	if len(src) == 0 {
		return false
	}
	if src[0] != compressMethodZlib {
		return false
	}
	zr, err := zlib.NewReader(bytes.NewReader(src[1:]))
	if err != nil {
		return false
	}
	defer zr.Close()
	n, err := io.ReadFull(zr, dst)
	return err == nil && n == len(dst)
}

// handle is the archive.Handle this package returns from Open. MPQ files
// are read eagerly in fileByHash, so Read/Close never touch the archive's
// input again.
type handle struct {
	data []byte
	pos  int
}

func (h *handle) Size() uint64 { return uint64(len(h.data)) }

func (h *handle) Read(buf []byte) bool {
	if len(buf) != len(h.data) {
		return false
	}
	copy(buf, h.data)
	return true
}

func (h *handle) Close() bool { return true }
