package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/dunamismax/hueshift/internal/domain"
)

func BenchmarkProcessorStaticRecolor(b *testing.B) {
	source := encodeStatic(b, benchmarkImage(1920, 1080))
	processor := NewProcessor(staticFetcher{data: source}, newTestRecolorer(b, Options{}), discardEmitter{})

	req := Request{
		JobID:      "bench",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Variants: []domain.Variant{
			{ID: "warm", Adjustment: domain.Adjustment{Hue: 30, Saturation: 10, OverlayColor: "#ff8800", OverlayOpacity: 25}},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-static-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorAnimatedRecolor(b *testing.B) {
	colors := make([]color.NRGBA, 24)
	for i := range colors {
		colors[i] = color.NRGBA{R: uint8(i * 10), G: 80, B: 200, A: 255}
	}
	source := encodeAnimated(b, 320, 240, colors, 40*time.Millisecond)
	processor := NewProcessor(staticFetcher{data: source}, newTestRecolorer(b, Options{}), discardEmitter{})

	req := Request{
		JobID:      "bench",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Variants: []domain.Variant{
			{ID: "cool", Adjustment: domain.Adjustment{Hue: -90, Brightness: 10}},
		},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-animated-%d", i)
		out, err := processor.Process(context.Background(), req)
		if err != nil {
			b.Fatalf("process: %v", err)
		}
		if !out.Outputs[0].Modified {
			b.Fatal("expected modified output")
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, variant domain.Variant, out Rendition) (Output, error) {
	return newOutput(variant, "", out), nil
}

func benchmarkImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}
