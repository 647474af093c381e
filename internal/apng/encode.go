package apng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/dunamismax/hueshift/internal/tint"
)

// CompressionLevel is the zlib level used for every IDAT and fdAT stream.
const CompressionLevel = 6

const (
	bitDepth8          = 8
	colorTypeRGBA      = 6
	bytesPerPixel      = 4
	maxDataChunkLength = 1 << 20
)

const (
	filterNone byte = iota
	filterSub
	filterUp
	filterAverage
	filterPaeth
	numFilters
)

// EncodePNG writes img as a single-image 8-bit RGBA PNG with adaptive row
// filtering and no palette reduction.
func EncodePNG(w io.Writer, img image.Image) error {
	src := tint.ToNRGBA(img)
	width, height := src.Rect.Dx(), src.Rect.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	data, err := compressImage(src)
	if err != nil {
		return err
	}

	e := &encoder{w: w}
	e.writeSignature()
	e.writeIHDR(width, height)
	e.writeIDAT(data)
	e.writeChunk(typeIEND, nil)
	return e.err
}

// Encode writes an APNG whose frames each cover the full canvas, replace the
// previous frame and are left in place after display.
func Encode(w io.Writer, a *Animation) error {
	if a == nil || len(a.Frames) == 0 {
		return ErrNoFrames
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, a.Width, a.Height)
	}
	size := image.Pt(a.Width, a.Height)

	e := &encoder{w: w}
	e.writeSignature()
	e.writeIHDR(a.Width, a.Height)
	e.writeACTL(len(a.Frames), a.LoopCount)
	for i, f := range a.Frames {
		if f.Image == nil || f.Image.Rect.Size() != size {
			return fmt.Errorf("%w: frame %d does not match %dx%d canvas", ErrFrameBounds, i, a.Width, a.Height)
		}
		data, err := compressImage(f.Image)
		if err != nil {
			return fmt.Errorf("apng: compress frame %d: %w", i, err)
		}
		num, den := f.DelayNum, f.DelayDen
		if den == 0 {
			num, den = delayFraction(f.Delay)
		}
		e.writeFCTL(frameControl{
			width:    a.Width,
			height:   a.Height,
			delayNum: num,
			delayDen: den,
			dispose:  DisposeNone,
			blend:    BlendSource,
		})
		if i == 0 {
			e.writeIDAT(data)
		} else {
			e.writeFDAT(data)
		}
	}
	e.writeChunk(typeIEND, nil)
	return e.err
}

// delayFraction expresses d in milliseconds, falling back to hundredths when
// the millisecond count does not fit in 16 bits.
func delayFraction(d time.Duration) (num, den uint16) {
	ms := d.Milliseconds()
	switch {
	case ms <= 0:
		return 0, 1000
	case ms <= math.MaxUint16:
		return uint16(ms), 1000
	default:
		return uint16(min(ms/10, math.MaxUint16)), 100
	}
}

type encoder struct {
	w   io.Writer
	err error
	seq uint32
}

func (e *encoder) writeSignature() {
	if e.err != nil {
		return
	}
	_, e.err = io.WriteString(e.w, pngSignature)
}

func (e *encoder) writeChunk(typ string, data []byte) {
	if e.err != nil {
		return
	}
	e.err = writeChunk(e.w, typ, data)
}

func (e *encoder) writeIHDR(width, height int) {
	var b [ihdrSize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(width))
	binary.BigEndian.PutUint32(b[4:8], uint32(height))
	b[8] = bitDepth8
	b[9] = colorTypeRGBA
	e.writeChunk(typeIHDR, b[:])
}

func (e *encoder) writeACTL(numFrames, numPlays int) {
	var b [actlSize]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(numFrames))
	binary.BigEndian.PutUint32(b[4:8], uint32(numPlays))
	e.writeChunk(typeACTL, b[:])
}

func (e *encoder) writeFCTL(fc frameControl) {
	var b [fctlSize]byte
	binary.BigEndian.PutUint32(b[0:4], e.seq)
	binary.BigEndian.PutUint32(b[4:8], uint32(fc.width))
	binary.BigEndian.PutUint32(b[8:12], uint32(fc.height))
	binary.BigEndian.PutUint32(b[12:16], uint32(fc.x))
	binary.BigEndian.PutUint32(b[16:20], uint32(fc.y))
	binary.BigEndian.PutUint16(b[20:22], fc.delayNum)
	binary.BigEndian.PutUint16(b[22:24], fc.delayDen)
	b[24] = fc.dispose
	b[25] = fc.blend
	e.seq++
	e.writeChunk(typeFCTL, b[:])
}

func (e *encoder) writeIDAT(data []byte) {
	for len(data) > 0 {
		n := min(len(data), maxDataChunkLength)
		e.writeChunk(typeIDAT, data[:n])
		data = data[n:]
	}
}

func (e *encoder) writeFDAT(data []byte) {
	for len(data) > 0 {
		n := min(len(data), maxDataChunkLength)
		b := make([]byte, 4+n)
		binary.BigEndian.PutUint32(b[0:4], e.seq)
		copy(b[4:], data[:n])
		e.seq++
		e.writeChunk(typeFDAT, b)
		data = data[n:]
	}
}

// compressImage filters every row with whichever filter gives the smallest sum
// of absolute signed bytes and deflates the result.
func compressImage(img *image.NRGBA) ([]byte, error) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	rowLen := width * bytesPerPixel

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}

	var candidates [numFilters][]byte
	for i := range candidates {
		candidates[i] = make([]byte, rowLen+1)
	}
	prior := make([]byte, rowLen)

	for y := 0; y < height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		row := img.Pix[off : off+rowLen]
		if _, err := zw.Write(filterRow(&candidates, row, prior)); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("deflate row %d: %w", y, err)
		}
		prior = row
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush zlib stream: %w", err)
	}
	return buf.Bytes(), nil
}

func filterRow(candidates *[numFilters][]byte, row, prior []byte) []byte {
	best, bestSum := 0, -1
	for f := filterNone; f < numFilters; f++ {
		out := candidates[f]
		out[0] = f
		applyFilter(f, out[1:], row, prior)

		sum := 0
		for _, v := range out[1:] {
			sum += absSigned(v)
			if bestSum >= 0 && sum >= bestSum {
				break
			}
		}
		if bestSum < 0 || sum < bestSum {
			best, bestSum = int(f), sum
		}
	}
	return candidates[best]
}

func applyFilter(f byte, out, row, prior []byte) {
	switch f {
	case filterNone:
		copy(out, row)
	case filterSub:
		for i := range row {
			var left byte
			if i >= bytesPerPixel {
				left = row[i-bytesPerPixel]
			}
			out[i] = row[i] - left
		}
	case filterUp:
		for i := range row {
			out[i] = row[i] - prior[i]
		}
	case filterAverage:
		for i := range row {
			left := 0
			if i >= bytesPerPixel {
				left = int(row[i-bytesPerPixel])
			}
			out[i] = row[i] - uint8((left+int(prior[i]))/2)
		}
	case filterPaeth:
		for i := range row {
			var left, upLeft byte
			if i >= bytesPerPixel {
				left = row[i-bytesPerPixel]
				upLeft = prior[i-bytesPerPixel]
			}
			out[i] = row[i] - paeth(left, prior[i], upLeft)
		}
	}
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func absSigned(v byte) int {
	if v < 0x80 {
		return int(v)
	}
	return 0x100 - int(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
