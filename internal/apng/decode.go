package apng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	"github.com/dunamismax/hueshift/internal/tint"
)

// Frame is one fully composited animation frame at canvas size.
//
// DelayNum and DelayDen hold the fcTL delay fraction of a decoded frame.
// Encode writes them verbatim when DelayDen is non-zero and otherwise derives
// a fraction from Delay.
type Frame struct {
	Image    *image.NRGBA
	Delay    time.Duration
	DelayNum uint16
	DelayDen uint16
}

// Animation is a decoded APNG. LoopCount 0 means loop forever.
type Animation struct {
	Width     int
	Height    int
	LoopCount int
	Frames    []Frame
}

// Report describes a lenient decode.
type Report struct {
	Rendered int
	Dropped  int
}

// Decoder decodes APNG streams within a pixel budget.
type Decoder struct {
	// MaxTotalPixels caps frames x canvas area. Zero means
	// DefaultMaxTotalPixels.
	MaxTotalPixels int64
}

func (d Decoder) limit() int64 {
	if d.MaxTotalPixels <= 0 {
		return DefaultMaxTotalPixels
	}
	return d.MaxTotalPixels
}

// Decode strictly decodes data with the default pixel budget.
func Decode(data []byte) (*Animation, error) {
	return Decoder{}.Decode(data)
}

// DecodeLenient leniently decodes data with the default pixel budget.
func DecodeLenient(data []byte) (*Animation, Report, error) {
	return Decoder{}.DecodeLenient(data)
}

// Decode strictly parses an APNG stream and returns every frame composited
// onto the canvas according to its dispose and blend operators.
func (d Decoder) Decode(data []byte) (*Animation, error) {
	c, err := demuxStrict(data, d.limit())
	if err != nil {
		return nil, err
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, c.header.width, c.header.height))
	anim := &Animation{
		Width:     c.header.width,
		Height:    c.header.height,
		LoopCount: c.numPlays,
		Frames:    make([]Frame, 0, len(c.frames)),
	}

	for i, f := range c.frames {
		img, err := c.decodeFrame(f)
		if err != nil {
			return nil, fmt.Errorf("apng: decode frame %d: %w", i, err)
		}

		r := f.control.rect()
		dispose := f.control.dispose
		if i == 0 && dispose == DisposePrevious {
			dispose = DisposeBackground
		}
		var saved *image.NRGBA
		if dispose == DisposePrevious {
			saved = image.NewNRGBA(r)
			copyRegion(saved, r, canvas, r.Min)
		}

		if f.control.blend == BlendOver {
			blendOver(canvas, r, img, image.Point{})
		} else {
			copyRegion(canvas, r, img, image.Point{})
		}
		anim.Frames = append(anim.Frames, f.control.frame(cloneNRGBA(canvas)))

		switch dispose {
		case DisposeBackground:
			clearRegion(canvas, r)
		case DisposePrevious:
			copyRegion(canvas, r, saved, r.Min)
		}
	}
	return anim, nil
}

// DecodeLenient renders each decodable frame onto its own transparent surface
// at the frame's offset and reads the pixels back. Frames that fail to decode
// are dropped and counted in the report. It fails only when no frame renders.
func (d Decoder) DecodeLenient(data []byte) (*Animation, Report, error) {
	c, skipped, err := demuxLenient(data, d.limit())
	if err != nil {
		return nil, Report{}, err
	}

	bounds := image.Rect(0, 0, c.header.width, c.header.height)
	anim := &Animation{
		Width:     c.header.width,
		Height:    c.header.height,
		LoopCount: c.numPlays,
	}
	report := Report{Dropped: skipped}

	for _, f := range c.frames {
		r := f.control.rect()
		if r.Intersect(bounds).Empty() {
			report.Dropped++
			continue
		}
		img, err := c.decodeFrame(f)
		if err != nil {
			report.Dropped++
			continue
		}
		surface := image.NewRGBA(bounds)
		draw.Draw(surface, r, img, image.Point{}, draw.Over)
		anim.Frames = append(anim.Frames, f.control.frame(tint.ToNRGBA(surface)))
	}

	report.Rendered = len(anim.Frames)
	if report.Rendered == 0 {
		return nil, report, ErrNoFrames
	}
	return anim, report, nil
}

// decodeFrame wraps a frame's compressed data in a standalone PNG stream sized
// to the frame and decodes it with image/png.
func (c *container) decodeFrame(f rawFrame) (*image.NRGBA, error) {
	if len(f.data) == 0 {
		return nil, ErrEmptyFrame
	}
	if f.control.width <= 0 || f.control.height <= 0 {
		return nil, fmt.Errorf("%w: frame %dx%d", ErrInvalidDimensions, f.control.width, f.control.height)
	}

	ihdr := make([]byte, ihdrSize)
	copy(ihdr, c.header.raw)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(f.control.width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(f.control.height))

	var buf bytes.Buffer
	buf.WriteString(pngSignature)
	if err := writeChunk(&buf, typeIHDR, ihdr); err != nil {
		return nil, err
	}
	for _, ch := range c.prelude {
		if err := writeChunk(&buf, ch.typ, ch.data); err != nil {
			return nil, err
		}
	}
	for _, part := range f.data {
		if err := writeChunk(&buf, typeIDAT, part); err != nil {
			return nil, err
		}
	}
	if err := writeChunk(&buf, typeIEND, nil); err != nil {
		return nil, err
	}

	img, err := png.Decode(&buf)
	if err != nil {
		return nil, err
	}
	return tint.ToNRGBA(img), nil
}
