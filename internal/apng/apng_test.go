package apng

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

type testFrame struct {
	control frameControl
	img     *image.NRGBA
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pattern(w, h int, seed int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8((i*37+seed*11)^(i>>3)) + uint8(seed)
	}
	return img
}

// buildAPNG writes frames with explicit frame control so tests can exercise
// offsets, blending and disposal. declared is the acTL frame count.
func buildAPNG(t *testing.T, width, height, declared int, frames []testFrame) []byte {
	t.Helper()
	var buf bytes.Buffer
	e := &encoder{w: &buf}
	e.writeSignature()
	e.writeIHDR(width, height)
	e.writeACTL(declared, 0)
	for i, f := range frames {
		data, err := compressImage(f.img)
		if err != nil {
			t.Fatalf("compress frame %d: %v", i, err)
		}
		fc := f.control
		fc.width, fc.height = f.img.Rect.Dx(), f.img.Rect.Dy()
		e.writeFCTL(fc)
		if i == 0 {
			e.writeIDAT(data)
		} else {
			e.writeFDAT(data)
		}
	}
	e.writeChunk(typeIEND, nil)
	if e.err != nil {
		t.Fatalf("build apng: %v", e.err)
	}
	return buf.Bytes()
}

func encodeTwoFrames(t *testing.T) []byte {
	t.Helper()
	anim := &Animation{
		Width:  3,
		Height: 2,
		Frames: []Frame{
			{Image: solid(3, 2, color.NRGBA{R: 255, A: 255}), Delay: 100 * time.Millisecond},
			{Image: solid(3, 2, color.NRGBA{B: 255, A: 255}), Delay: 250 * time.Millisecond},
		},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, anim); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func removeChunks(t *testing.T, data []byte, typ string) []byte {
	t.Helper()
	out := append([]byte(nil), data[:len(pngSignature)]...)
	rest := data[len(pngSignature):]
	for len(rest) > 0 {
		c, n, err := readChunk(rest)
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		if c.typ != typ {
			out = append(out, rest[:n]...)
		}
		rest = rest[n:]
	}
	return out
}

// chunkOffset returns the offset of the length field of the nth chunk of typ.
func chunkOffset(t *testing.T, data []byte, typ string, nth int) int {
	t.Helper()
	off := len(pngSignature)
	for off < len(data) {
		c, n, err := readChunk(data[off:])
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		if c.typ == typ {
			if nth == 0 {
				return off
			}
			nth--
		}
		off += n
	}
	t.Fatalf("chunk %s not found", typ)
	return -1
}

func assertPixel(t *testing.T, img *image.NRGBA, x, y int, want color.NRGBA, tolerance int) {
	t.Helper()
	got := img.NRGBAAt(x, y)
	diff := func(a, b uint8) int {
		d := int(a) - int(b)
		if d < 0 {
			return -d
		}
		return d
	}
	if diff(got.R, want.R) > tolerance || diff(got.G, want.G) > tolerance ||
		diff(got.B, want.B) > tolerance || diff(got.A, want.A) > tolerance {
		t.Fatalf("pixel (%d,%d): expected %v, got %v", x, y, want, got)
	}
}

func TestIsAnimated(t *testing.T) {
	var static bytes.Buffer
	if err := png.Encode(&static, solid(2, 2, color.NRGBA{A: 255})); err != nil {
		t.Fatalf("encode static png: %v", err)
	}

	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "apng", data: encodeTwoFrames(t), want: true},
		{name: "static png", data: static.Bytes(), want: false},
		{name: "empty", data: nil, want: false},
		{name: "marker without signature", data: []byte("GIF89a....acTL...."), want: false},
		{name: "signature only", data: []byte(pngSignature), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAnimated(tc.data); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHasFrameControl(t *testing.T) {
	animated := encodeTwoFrames(t)
	if !HasFrameControl(animated) {
		t.Fatal("expected frame control in apng")
	}
	stripped := removeChunks(t, animated, typeACTL)
	if IsAnimated(stripped) {
		t.Fatal("expected stream without acTL to be classified static")
	}
	if !HasFrameControl(stripped) {
		t.Fatal("expected frame control to survive acTL removal")
	}

	var static bytes.Buffer
	if err := EncodePNG(&static, pattern(4, 4, 1)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if HasFrameControl(static.Bytes()) {
		t.Fatal("expected no frame control in static png")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	delays := []time.Duration{100 * time.Millisecond, 40 * time.Millisecond, 1500 * time.Millisecond, 70 * time.Second}
	anim := &Animation{Width: 5, Height: 3}
	for i, d := range delays {
		anim.Frames = append(anim.Frames, Frame{Image: pattern(5, 3, i+1), Delay: d})
	}

	var buf bytes.Buffer
	if err := Encode(&buf, anim); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsAnimated(buf.Bytes()) {
		t.Fatal("expected encoded stream to be detected as animated")
	}

	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != 5 || got.Height != 3 {
		t.Fatalf("expected 5x3 canvas, got %dx%d", got.Width, got.Height)
	}
	if got.LoopCount != 0 {
		t.Fatalf("expected infinite loop, got %d", got.LoopCount)
	}
	if len(got.Frames) != len(delays) {
		t.Fatalf("expected %d frames, got %d", len(delays), len(got.Frames))
	}
	for i, f := range got.Frames {
		if f.Delay != delays[i] {
			t.Fatalf("frame %d: expected delay %v, got %v", i, delays[i], f.Delay)
		}
		if !bytes.Equal(f.Image.Pix, anim.Frames[i].Image.Pix) {
			t.Fatalf("frame %d: pixels changed across round trip", i)
		}
	}
}

func TestDecodeComposesFrameRegions(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	transparent := color.NRGBA{}

	data := buildAPNG(t, 4, 4, 4, []testFrame{
		{control: frameControl{dispose: DisposeNone, blend: BlendSource}, img: solid(4, 4, red)},
		{control: frameControl{x: 1, y: 1, dispose: DisposeBackground, blend: BlendOver}, img: solid(2, 2, blue)},
		{control: frameControl{dispose: DisposePrevious, blend: BlendOver}, img: solid(1, 1, color.NRGBA{G: 255, A: 128})},
		{control: frameControl{x: 3, y: 3, dispose: DisposeNone, blend: BlendSource}, img: solid(1, 1, white)},
	})

	anim, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(anim.Frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(anim.Frames))
	}

	assertPixel(t, anim.Frames[0].Image, 2, 2, red, 0)

	assertPixel(t, anim.Frames[1].Image, 0, 0, red, 0)
	assertPixel(t, anim.Frames[1].Image, 1, 1, blue, 0)
	assertPixel(t, anim.Frames[1].Image, 2, 2, blue, 0)
	assertPixel(t, anim.Frames[1].Image, 3, 3, red, 0)

	assertPixel(t, anim.Frames[2].Image, 0, 0, color.NRGBA{R: 127, G: 128, A: 255}, 1)
	assertPixel(t, anim.Frames[2].Image, 1, 1, transparent, 0)
	assertPixel(t, anim.Frames[2].Image, 3, 3, red, 0)

	assertPixel(t, anim.Frames[3].Image, 0, 0, red, 0)
	assertPixel(t, anim.Frames[3].Image, 2, 2, transparent, 0)
	assertPixel(t, anim.Frames[3].Image, 3, 3, white, 0)
}

func TestDecodeRejectsStrippedAnimationControl(t *testing.T) {
	stripped := removeChunks(t, encodeTwoFrames(t), typeACTL)

	if _, err := Decode(stripped); !errors.Is(err, ErrNoAnimation) {
		t.Fatalf("expected ErrNoAnimation, got %v", err)
	}

	anim, report, err := DecodeLenient(stripped)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if report.Rendered != 2 || report.Dropped != 0 {
		t.Fatalf("expected 2 rendered and 0 dropped, got %+v", report)
	}
	assertPixel(t, anim.Frames[0].Image, 0, 0, color.NRGBA{R: 255, A: 255}, 0)
	assertPixel(t, anim.Frames[1].Image, 2, 1, color.NRGBA{B: 255, A: 255}, 0)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	data := encodeTwoFrames(t)
	off := chunkOffset(t, data, typeFDAT, 0)
	length := int(binary.BigEndian.Uint32(data[off : off+4]))
	data[off+chunkHeaderSize+length] ^= 0xff

	if _, err := Decode(data); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	anim, _, err := DecodeLenient(data)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if len(anim.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(anim.Frames))
	}
}

func TestDecodeLenientDropsUndecodableFrames(t *testing.T) {
	data := encodeTwoFrames(t)
	off := chunkOffset(t, data, typeFDAT, 0)
	// Skip the chunk header and the sequence number to reach the zlib header.
	data[off+chunkHeaderSize+4] = 0xff
	data[off+chunkHeaderSize+5] = 0xff

	if _, err := Decode(data); err == nil {
		t.Fatal("expected strict decode to fail")
	}
	anim, report, err := DecodeLenient(data)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if report.Rendered != 1 || report.Dropped != 1 {
		t.Fatalf("expected 1 rendered and 1 dropped, got %+v", report)
	}
	if anim.Frames[0].Delay != 100*time.Millisecond {
		t.Fatalf("expected surviving frame delay 100ms, got %v", anim.Frames[0].Delay)
	}
}

func TestDecodeRejectsFrameCountMismatch(t *testing.T) {
	data := buildAPNG(t, 2, 2, 3, []testFrame{
		{img: solid(2, 2, color.NRGBA{R: 1, A: 255})},
		{img: solid(2, 2, color.NRGBA{R: 2, A: 255})},
	})
	if _, err := Decode(data); !errors.Is(err, ErrFrameCount) {
		t.Fatalf("expected ErrFrameCount, got %v", err)
	}
}

func TestDecodeRejectsFrameOutsideCanvas(t *testing.T) {
	data := buildAPNG(t, 2, 2, 2, []testFrame{
		{img: solid(2, 2, color.NRGBA{A: 255})},
		{control: frameControl{x: 1, y: 1}, img: solid(2, 2, color.NRGBA{A: 255})},
	})
	if _, err := Decode(data); !errors.Is(err, ErrFrameBounds) {
		t.Fatalf("expected ErrFrameBounds, got %v", err)
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	data := encodeTwoFrames(t)
	if _, err := Decode(data[:len(data)-6]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, _, err := DecodeLenient([]byte("not a png")); !errors.Is(err, ErrNotPNG) {
		t.Fatalf("expected ErrNotPNG, got %v", err)
	}
}

func TestEncodePNGDecodesWithImagePNG(t *testing.T) {
	src := pattern(7, 5, 3)

	var buf bytes.Buffer
	if err := EncodePNG(&buf, src); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data := buf.Bytes()
	if data[24] != bitDepth8 || data[25] != colorTypeRGBA {
		t.Fatalf("expected 8-bit RGBA header, got depth=%d color=%d", data[24], data[25])
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	got, ok := decoded.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected *image.NRGBA, got %T", decoded)
	}
	if !bytes.Equal(got.Pix, src.Pix) {
		t.Fatal("pixels changed across encode")
	}
}

func TestEncodeRejectsMismatchedFrame(t *testing.T) {
	anim := &Animation{
		Width:  2,
		Height: 2,
		Frames: []Frame{{Image: solid(3, 2, color.NRGBA{A: 255})}},
	}
	if err := Encode(&bytes.Buffer{}, anim); !errors.Is(err, ErrFrameBounds) {
		t.Fatalf("expected ErrFrameBounds, got %v", err)
	}
	if err := Encode(&bytes.Buffer{}, &Animation{Width: 2, Height: 2}); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestDelayFraction(t *testing.T) {
	cases := []struct {
		in       time.Duration
		num, den uint16
	}{
		{in: 0, num: 0, den: 1000},
		{in: 40 * time.Millisecond, num: 40, den: 1000},
		{in: 65535 * time.Millisecond, num: 65535, den: 1000},
		{in: 70 * time.Second, num: 7000, den: 100},
	}
	for _, tc := range cases {
		num, den := delayFraction(tc.in)
		if num != tc.num || den != tc.den {
			t.Fatalf("%v: expected %d/%d, got %d/%d", tc.in, tc.num, tc.den, num, den)
		}
	}
}

func TestDecodeRejectsFramesOverPixelBudget(t *testing.T) {
	frames := []testFrame{{img: solid(64, 64, color.NRGBA{R: 9, A: 255})}}
	for i := 1; i < 10; i++ {
		frames = append(frames, testFrame{control: frameControl{x: i, y: i}, img: solid(1, 1, color.NRGBA{G: 9, A: 255})})
	}
	data := buildAPNG(t, 64, 64, len(frames), frames)
	total := int64(len(frames) * 64 * 64)

	tight := Decoder{MaxTotalPixels: total - 1}
	if _, err := tight.Decode(data); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge from strict decode, got %v", err)
	}
	if _, _, err := tight.DecodeLenient(data); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge from lenient decode, got %v", err)
	}

	anim, err := Decoder{MaxTotalPixels: total}.Decode(data)
	if err != nil {
		t.Fatalf("decode within budget: %v", err)
	}
	if len(anim.Frames) != len(frames) {
		t.Fatalf("expected %d frames, got %d", len(frames), len(anim.Frames))
	}
}

func TestDecodeRejectsDeclaredFramesOverPixelBudget(t *testing.T) {
	data := buildAPNG(t, 64, 64, 1<<20, []testFrame{{img: solid(64, 64, color.NRGBA{A: 255})}})
	if _, err := Decode(data); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge for forged acTL count, got %v", err)
	}
}

func TestDecodeKeepsSourceDelayFraction(t *testing.T) {
	data := buildAPNG(t, 2, 2, 2, []testFrame{
		{control: frameControl{delayNum: 1, delayDen: 30}, img: solid(2, 2, color.NRGBA{R: 255, A: 255})},
		{control: frameControl{delayNum: 7}, img: solid(2, 2, color.NRGBA{B: 255, A: 255})},
	})

	anim, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f := anim.Frames[0]; f.DelayNum != 1 || f.DelayDen != 30 {
		t.Fatalf("expected 1/30, got %d/%d", f.DelayNum, f.DelayDen)
	}
	if f := anim.Frames[1]; f.DelayNum != 7 || f.DelayDen != 100 || f.Delay != 70*time.Millisecond {
		t.Fatalf("expected 7/100 (70ms), got %d/%d (%v)", f.DelayNum, f.DelayDen, f.Delay)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, anim); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.Bytes()
	off := chunkOffset(t, out, typeFCTL, 0) + chunkHeaderSize
	num := binary.BigEndian.Uint16(out[off+20 : off+22])
	den := binary.BigEndian.Uint16(out[off+22 : off+24])
	if num != 1 || den != 30 {
		t.Fatalf("expected re-encoded delay 1/30, got %d/%d", num, den)
	}
}
