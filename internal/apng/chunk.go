// Package apng reads and writes the PNG and animated PNG (APNG) containers used
// by the recolor pipeline.
//
// Decoding works at the chunk level: frame data carried in IDAT and fdAT chunks
// is re-wrapped into standalone PNG streams and handed to image/png, so every
// color type and bit depth the standard decoder understands is accepted.
// Encoding always produces 8-bit RGBA truecolor with a fixed zlib level and
// adaptive row filtering.
package apng

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const pngSignature = "\x89PNG\r\n\x1a\n"

const (
	chunkHeaderSize = 8
	chunkCRCSize    = 4
	maxChunkPayload = 0x7fffffff
)

const (
	typeIHDR = "IHDR"
	typePLTE = "PLTE"
	typeTRNS = "tRNS"
	typeIDAT = "IDAT"
	typeIEND = "IEND"
	typeACTL = "acTL"
	typeFCTL = "fcTL"
	typeFDAT = "fdAT"
)

var (
	ErrNotPNG            = errors.New("apng: missing PNG signature")
	ErrTruncated         = errors.New("apng: truncated stream")
	ErrChecksum          = errors.New("apng: chunk checksum mismatch")
	ErrMalformedChunk    = errors.New("apng: malformed chunk")
	ErrMissingHeader     = errors.New("apng: IHDR must be the first chunk")
	ErrInvalidDimensions = errors.New("apng: invalid dimensions")
	ErrNoAnimation       = errors.New("apng: missing acTL chunk")
	ErrChunkOrder        = errors.New("apng: chunk out of order")
	ErrSequence          = errors.New("apng: sequence number out of order")
	ErrFrameCount        = errors.New("apng: frame count does not match acTL")
	ErrFrameBounds       = errors.New("apng: frame region outside canvas")
	ErrEmptyFrame        = errors.New("apng: frame has no image data")
	ErrNoFrames          = errors.New("apng: no frames")
	ErrTooLarge          = errors.New("apng: decoded frames exceed pixel budget")
)

// errStopWalk ends a walk early without reporting a failure.
var errStopWalk = errors.New("apng: stop walk")

type chunk struct {
	typ  string
	data []byte
	crc  uint32
}

func (c chunk) checksumOK() bool {
	h := crc32.NewIEEE()
	h.Write([]byte(c.typ))
	h.Write(c.data)
	return h.Sum32() == c.crc
}

// readChunk parses the chunk at the start of data and returns it together with
// the number of bytes it occupies. The returned payload aliases data.
func readChunk(data []byte) (chunk, int, error) {
	if len(data) < chunkHeaderSize+chunkCRCSize {
		return chunk{}, 0, fmt.Errorf("%w: need a chunk header, have %d bytes", ErrTruncated, len(data))
	}
	length := binary.BigEndian.Uint32(data[0:4])
	if length > maxChunkPayload {
		return chunk{}, 0, fmt.Errorf("%w: %q declares %d bytes", ErrMalformedChunk, data[4:8], length)
	}
	end := chunkHeaderSize + int(length) + chunkCRCSize
	if end > len(data) {
		return chunk{}, 0, fmt.Errorf("%w: %q needs %d bytes, have %d", ErrTruncated, data[4:8], end, len(data))
	}
	return chunk{
		typ:  string(data[4:8]),
		data: data[chunkHeaderSize : chunkHeaderSize+int(length)],
		crc:  binary.BigEndian.Uint32(data[end-chunkCRCSize : end]),
	}, end, nil
}

func hasSignature(data []byte) bool {
	return len(data) >= len(pngSignature) && string(data[:len(pngSignature)]) == pngSignature
}

// walk calls fn for each chunk up to and including IEND. A stream that ends
// before IEND is reported as truncated.
func walk(data []byte, fn func(chunk) error) error {
	if !hasSignature(data) {
		return ErrNotPNG
	}
	rest := data[len(pngSignature):]
	for len(rest) > 0 {
		c, n, err := readChunk(rest)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		if c.typ == typeIEND {
			return nil
		}
		rest = rest[n:]
	}
	return fmt.Errorf("%w: missing IEND", ErrTruncated)
}

func writeChunk(w io.Writer, typ string, data []byte) error {
	if len(data) > maxChunkPayload {
		return fmt.Errorf("%w: %s payload of %d bytes", ErrMalformedChunk, typ, len(data))
	}

	var header [chunkHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], typ)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)
	var footer [chunkCRCSize]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(footer[:])
	return err
}
