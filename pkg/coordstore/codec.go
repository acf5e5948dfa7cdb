package coordstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
)

// Values are framed as [flag:1][crc32:4][payload] where flag selects the
// payload encoding. Small values stay raw; snappy only pays off past
// compressThreshold bytes.
const (
	codecRaw    byte = 0x00
	codecSnappy byte = 0x01

	codecHeaderSize   = 5
	compressThreshold = 64
)

// EncodeValue frames raw for storage, compressing when it helps.
func EncodeValue(raw []byte) []byte {
	payload := raw
	flag := codecRaw
	if len(raw) >= compressThreshold {
		compressed := snappy.Encode(nil, raw)
		if len(compressed) < len(raw) {
			payload = compressed
			flag = codecSnappy
		}
	}

	framed := make([]byte, codecHeaderSize+len(payload))
	framed[0] = flag
	binary.BigEndian.PutUint32(framed[1:codecHeaderSize], crc32.ChecksumIEEE(payload))
	copy(framed[codecHeaderSize:], payload)
	return framed
}

// DecodeValue unframes a stored value, verifying its checksum.
func DecodeValue(framed []byte) ([]byte, error) {
	if len(framed) < codecHeaderSize {
		return nil, fmt.Errorf("%w: value shorter than header (%d bytes)", ErrBadValue, len(framed))
	}

	flag := framed[0]
	want := binary.BigEndian.Uint32(framed[1:codecHeaderSize])
	payload := framed[codecHeaderSize:]
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrBadValue, got, want)
	}

	switch flag {
	case codecRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case codecSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy decode: %v", ErrBadValue, err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding flag 0x%02x", ErrBadValue, flag)
	}
}
