package apng

import (
	"encoding/binary"
	"fmt"
	"image"
	"time"
)

const (
	ihdrSize = 13
	actlSize = 8
	fctlSize = 26

	// maxPixels bounds the canvas of a single frame.
	maxPixels = 1 << 26

	// DefaultMaxTotalPixels bounds frames x canvas area for one decode.
	DefaultMaxTotalPixels = 1 << 26
)

// Frame disposal and blend operators from the fcTL chunk.
const (
	DisposeNone       byte = 0
	DisposeBackground byte = 1
	DisposePrevious   byte = 2

	BlendSource byte = 0
	BlendOver   byte = 1
)

type header struct {
	width  int
	height int
	raw    []byte
}

func parseHeader(c chunk) (header, error) {
	if c.typ != typeIHDR {
		return header{}, ErrMissingHeader
	}
	if len(c.data) != ihdrSize {
		return header{}, fmt.Errorf("%w: IHDR length %d", ErrMalformedChunk, len(c.data))
	}
	w := binary.BigEndian.Uint32(c.data[0:4])
	h := binary.BigEndian.Uint32(c.data[4:8])
	if w == 0 || h == 0 || uint64(w)*uint64(h) > maxPixels {
		return header{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	return header{width: int(w), height: int(h), raw: c.data}, nil
}

type frameControl struct {
	seq      uint32
	width    int
	height   int
	x        int
	y        int
	delayNum uint16
	delayDen uint16
	dispose  byte
	blend    byte
}

func parseFrameControl(data []byte) (frameControl, error) {
	if len(data) != fctlSize {
		return frameControl{}, fmt.Errorf("%w: fcTL length %d", ErrMalformedChunk, len(data))
	}
	fc := frameControl{
		seq:      binary.BigEndian.Uint32(data[0:4]),
		width:    int(binary.BigEndian.Uint32(data[4:8])),
		height:   int(binary.BigEndian.Uint32(data[8:12])),
		x:        int(binary.BigEndian.Uint32(data[12:16])),
		y:        int(binary.BigEndian.Uint32(data[16:20])),
		delayNum: binary.BigEndian.Uint16(data[20:22]),
		delayDen: binary.BigEndian.Uint16(data[22:24]),
		dispose:  data[24],
		blend:    data[25],
	}
	if fc.dispose > DisposePrevious || fc.blend > BlendOver {
		return frameControl{}, fmt.Errorf("%w: fcTL dispose=%d blend=%d", ErrMalformedChunk, fc.dispose, fc.blend)
	}
	return fc, nil
}

func (fc frameControl) rect() image.Rectangle {
	return image.Rect(fc.x, fc.y, fc.x+fc.width, fc.y+fc.height)
}

// delay converts the fcTL fraction to a duration. A zero denominator means
// hundredths of a second.
func (fc frameControl) delay() time.Duration {
	den := fc.delayDen
	if den == 0 {
		den = 100
	}
	return time.Duration(fc.delayNum) * time.Second / time.Duration(den)
}

// frame pairs img with the control's delay, keeping the source fraction.
func (fc frameControl) frame(img *image.NRGBA) Frame {
	den := fc.delayDen
	if den == 0 {
		den = 100
	}
	return Frame{Image: img, Delay: fc.delay(), DelayNum: fc.delayNum, DelayDen: den}
}

type rawFrame struct {
	control frameControl
	data    [][]byte
}

// container is the demuxed form of an APNG stream: the canvas header, chunks
// every frame needs to decode on its own, and the per-frame compressed data.
type container struct {
	header    header
	prelude   []chunk
	numFrames int
	numPlays  int
	frames    []rawFrame
}

// checkBudget fails once frames full-canvas snapshots would exceed limit pixels.
func (h header) checkBudget(frames int, limit int64) error {
	total := uint64(frames) * uint64(h.width) * uint64(h.height)
	if limit > 0 && total > uint64(limit) {
		return fmt.Errorf("%w: %d frames of %dx%d exceed %d pixels", ErrTooLarge, frames, h.width, h.height, limit)
	}
	return nil
}

// demuxStrict validates the whole stream: checksums, chunk order, contiguous
// sequence numbers, frame bounds and the acTL frame count. limit caps the
// total decoded pixels.
func demuxStrict(data []byte, limit int64) (*container, error) {
	c := &container{}
	var (
		seenHeader bool
		seenACTL   bool
		seenIDAT   bool
		lastType   string
		nextSeq    uint32
		idatFrame  = -1
	)

	canvas := func() image.Rectangle { return image.Rect(0, 0, c.header.width, c.header.height) }

	err := walk(data, func(ch chunk) error {
		defer func() { lastType = ch.typ }()

		if !ch.checksumOK() {
			return fmt.Errorf("%w: %s", ErrChecksum, ch.typ)
		}
		if !seenHeader {
			h, err := parseHeader(ch)
			if err != nil {
				return err
			}
			c.header = h
			seenHeader = true
			return nil
		}

		switch ch.typ {
		case typeIHDR:
			return fmt.Errorf("%w: duplicate IHDR", ErrChunkOrder)
		case typePLTE, typeTRNS:
			if seenIDAT {
				return fmt.Errorf("%w: %s after IDAT", ErrChunkOrder, ch.typ)
			}
			c.prelude = append(c.prelude, ch)
		case typeACTL:
			if seenACTL || seenIDAT {
				return fmt.Errorf("%w: acTL", ErrChunkOrder)
			}
			if len(ch.data) != actlSize {
				return fmt.Errorf("%w: acTL length %d", ErrMalformedChunk, len(ch.data))
			}
			c.numFrames = int(binary.BigEndian.Uint32(ch.data[0:4]))
			c.numPlays = int(binary.BigEndian.Uint32(ch.data[4:8]))
			seenACTL = true
			if err := c.header.checkBudget(c.numFrames, limit); err != nil {
				return err
			}
		case typeFCTL:
			fc, err := parseFrameControl(ch.data)
			if err != nil {
				return err
			}
			if fc.seq != nextSeq {
				return fmt.Errorf("%w: fcTL has %d, want %d", ErrSequence, fc.seq, nextSeq)
			}
			nextSeq++
			if fc.width == 0 || fc.height == 0 || !fc.rect().In(canvas()) {
				return fmt.Errorf("%w: frame %d at %v", ErrFrameBounds, len(c.frames), fc.rect())
			}
			if err := c.header.checkBudget(len(c.frames)+1, limit); err != nil {
				return err
			}
			c.frames = append(c.frames, rawFrame{control: fc})
		case typeIDAT:
			if seenIDAT && lastType != typeIDAT {
				return fmt.Errorf("%w: IDAT chunks are not consecutive", ErrChunkOrder)
			}
			if !seenIDAT {
				switch len(c.frames) {
				case 0:
					// default image, not part of the animation
				case 1:
					idatFrame = 0
				default:
					return fmt.Errorf("%w: %d fcTL chunks before IDAT", ErrChunkOrder, len(c.frames))
				}
			}
			seenIDAT = true
			if idatFrame == 0 {
				c.frames[0].data = append(c.frames[0].data, ch.data)
			}
		case typeFDAT:
			if !seenIDAT {
				return fmt.Errorf("%w: fdAT before IDAT", ErrChunkOrder)
			}
			if len(ch.data) < 4 {
				return fmt.Errorf("%w: fdAT length %d", ErrMalformedChunk, len(ch.data))
			}
			seq := binary.BigEndian.Uint32(ch.data[0:4])
			if seq != nextSeq {
				return fmt.Errorf("%w: fdAT has %d, want %d", ErrSequence, seq, nextSeq)
			}
			nextSeq++
			last := len(c.frames) - 1
			if last < 0 || last == idatFrame {
				return fmt.Errorf("%w: fdAT without its own fcTL", ErrChunkOrder)
			}
			c.frames[last].data = append(c.frames[last].data, ch.data[4:])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !seenACTL:
		return nil, ErrNoAnimation
	case !seenIDAT:
		return nil, fmt.Errorf("%w: missing IDAT", ErrChunkOrder)
	case len(c.frames) == 0:
		return nil, ErrNoFrames
	case c.numFrames != len(c.frames):
		return nil, fmt.Errorf("%w: acTL declares %d, found %d", ErrFrameCount, c.numFrames, len(c.frames))
	}
	if idatFrame == 0 && c.frames[0].control.rect() != canvas() {
		return nil, fmt.Errorf("%w: first frame must cover the canvas", ErrFrameBounds)
	}
	for i, f := range c.frames {
		if len(f.data) == 0 {
			return nil, fmt.Errorf("%w: frame %d", ErrEmptyFrame, i)
		}
	}
	return c, nil
}

// demuxLenient recovers whatever frames it can. Checksums, sequence numbers
// and acTL are ignored and a truncated chunk ends the scan. The second return
// value counts fcTL chunks that could not be parsed. Exceeding limit is still
// an error.
func demuxLenient(data []byte, limit int64) (*container, int, error) {
	if !hasSignature(data) {
		return nil, 0, ErrNotPNG
	}
	rest := data[len(pngSignature):]
	first, n, err := readChunk(rest)
	if err != nil {
		return nil, 0, err
	}
	h, err := parseHeader(first)
	if err != nil {
		return nil, 0, err
	}
	rest = rest[n:]

	c := &container{header: h}
	skipped := 0
	current := -1
	seenIDAT := false

scan:
	for len(rest) > 0 {
		ch, n, err := readChunk(rest)
		if err != nil {
			break
		}
		rest = rest[n:]

		switch ch.typ {
		case typePLTE, typeTRNS:
			if !seenIDAT {
				c.prelude = append(c.prelude, ch)
			}
		case typeACTL:
			if len(ch.data) == actlSize {
				c.numPlays = int(binary.BigEndian.Uint32(ch.data[4:8]))
			}
		case typeFCTL:
			fc, err := parseFrameControl(ch.data)
			if err != nil {
				skipped++
				current = -1
				continue
			}
			if err := c.header.checkBudget(len(c.frames)+1, limit); err != nil {
				return nil, skipped, err
			}
			c.frames = append(c.frames, rawFrame{control: fc})
			current = len(c.frames) - 1
		case typeIDAT:
			seenIDAT = true
			if current >= 0 {
				c.frames[current].data = append(c.frames[current].data, ch.data)
			}
		case typeFDAT:
			if current >= 0 && len(ch.data) >= 4 {
				c.frames[current].data = append(c.frames[current].data, ch.data[4:])
			}
		case typeIEND:
			break scan
		}
	}
	c.numFrames = len(c.frames)
	return c, skipped, nil
}
