// Package snapshot implements the binary codec for captured guest memory
// images and the compatibility check that guards every restore.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mwantia/isopod/data"
	"github.com/zeebo/blake3"
)

// imageMagic identifies an isopod snapshot image.
var imageMagic = [4]byte{'I', 'S', 'O', 'P'}

// FormatVersion is the image format version.
// v1: initial format (header, build identity, memory, host object table,
// blake3 payload digest)
const FormatVersion uint32 = 1

const digestSize = 32

var (
	ErrBadMagic      = errors.New("snapshot: invalid magic number")
	ErrFormatVersion = errors.New("snapshot: unsupported format version")
	ErrCorrupt       = errors.New("snapshot: corrupt image data")

	// ErrBuildMismatch aliases the shared sentinel so callers matching
	// either spelling agree.
	ErrBuildMismatch = data.ErrBuildMismatch
)

// HostObject is one entry of the custom-serialized side table: a
// host-side value captured alongside the memory image that must be
// re-linked into the restored guest state, since raw memory cannot
// represent host object references. The relink procedure itself is an
// external collaborator contract; the codec only carries the entries.
type HostObject struct {
	Tag  string
	Data []byte
}

// Image is a captured copy of the guest engine's linear memory at a
// known-good checkpoint, plus the host object side table. An image is
// only valid for an engine of the exact build it was captured under.
type Image struct {
	// Build is the engine build identity recorded at capture time.
	Build string

	// Memory is the guest's linear memory.
	Memory []byte

	// Objects is the custom-serialized host object side table.
	Objects []HostObject
}

// CompatibleWith rejects the image unless it was captured under exactly
// the given engine build. Called before any restore side effect.
func (img *Image) CompatibleWith(build string) error {
	if img.Build != build {
		return fmt.Errorf("snapshot captured under build %q, engine is %q: %w",
			img.Build, build, ErrBuildMismatch)
	}

	return nil
}

// Encode serializes the image:
//
//	magic(4) version(4) digest(32) buildLen(4) build
//	memLen(8) memory objCount(4) { tagLen(4) tag dataLen(8) data }*
//
// The digest is the blake3 hash of everything after the digest field.
func Encode(img *Image) []byte {
	payload := encodePayload(img)

	buf := make([]byte, 0, 4+4+digestSize+len(payload))
	buf = append(buf, imageMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)

	digest := blake3.Sum256(payload)
	buf = append(buf, digest[:]...)
	buf = append(buf, payload...)

	return buf
}

func encodePayload(img *Image) []byte {
	size := 4 + len(img.Build) + 8 + len(img.Memory) + 4
	for _, obj := range img.Objects {
		size += 4 + len(obj.Tag) + 8 + len(obj.Data)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(img.Build)))
	buf = append(buf, img.Build...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(img.Memory)))
	buf = append(buf, img.Memory...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(img.Objects)))

	for _, obj := range img.Objects {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(obj.Tag)))
		buf = append(buf, obj.Tag...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(obj.Data)))
		buf = append(buf, obj.Data...)
	}

	return buf
}

// Decode parses and verifies an encoded image. The payload digest is
// checked before any field is interpreted.
func Decode(raw []byte) (*Image, error) {
	if len(raw) < 4+4+digestSize {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}

	if [4]byte(raw[:4]) != imageMagic {
		return nil, ErrBadMagic
	}

	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFormatVersion, version, FormatVersion)
	}

	var digest [digestSize]byte
	copy(digest[:], raw[8:8+digestSize])

	payload := raw[8+digestSize:]
	if blake3.Sum256(payload) != digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	r := reader{buf: payload}

	buildLen := r.uint32()
	build := r.bytes(int(buildLen))
	memLen := r.uint64()
	memory := r.bytes(int(memLen))
	objCount := r.uint32()

	if r.failed {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorrupt)
	}

	// Each object needs at least its two length fields.
	if int(objCount) > (len(payload)-r.offset)/12 {
		return nil, fmt.Errorf("%w: host object count %d exceeds payload", ErrCorrupt, objCount)
	}

	objects := make([]HostObject, 0, objCount)
	for i := uint32(0); i < objCount; i++ {
		tagLen := r.uint32()
		tag := r.bytes(int(tagLen))
		dataLen := r.uint64()
		objData := r.bytes(int(dataLen))

		if r.failed {
			return nil, fmt.Errorf("%w: truncated host object %d", ErrCorrupt, i)
		}

		objects = append(objects, HostObject{
			Tag:  string(tag),
			Data: append([]byte(nil), objData...),
		})
	}

	if r.offset != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(payload)-r.offset)
	}

	return &Image{
		Build:   string(build),
		Memory:  append([]byte(nil), memory...),
		Objects: objects,
	}, nil
}

// reader is a cursor over the payload that latches the first failure
// instead of returning an error per field.
type reader struct {
	buf    []byte
	offset int
	failed bool
}

func (r *reader) uint32() uint32 {
	if r.failed || r.offset+4 > len(r.buf) {
		r.failed = true
		return 0
	}

	v := binary.LittleEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v
}

func (r *reader) uint64() uint64 {
	if r.failed || r.offset+8 > len(r.buf) {
		r.failed = true
		return 0
	}

	v := binary.LittleEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.failed || n < 0 || r.offset+n > len(r.buf) {
		r.failed = true
		return nil
	}

	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b
}
