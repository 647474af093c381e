package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
)

func TestLocalProcessor_FileInRecolorFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(newTestRecolorer(t, Options{}), outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	req := Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Variants: []domain.Variant{
			{ID: "warm", Adjustment: domain.Adjustment{Hue: 30, Saturation: 10}},
			{ID: "tinted/green", Adjustment: domain.Adjustment{OverlayColor: "#00FF00", OverlayOpacity: 40}},
		},
	}

	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("expected source bytes %d, got %d", len(srcBytes), result.SourceBytes)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}

	for _, out := range result.Outputs {
		if !out.Success || !out.Modified {
			t.Fatalf("expected modified output for %s", out.VariantID)
		}
		if out.ContentType != "image/png" || out.Kind != "static" {
			t.Fatalf("expected static png, got %s %s", out.Kind, out.ContentType)
		}
		verifyImageWidth(t, out.Path, 240)

		written, err := os.ReadFile(out.Path)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if bytes.Equal(srcBytes, written) {
			t.Fatalf("expected %s output to differ from source image bytes", out.VariantID)
		}
	}
	if filepath.Base(result.Outputs[1].Path) != "tinted_green.png" {
		t.Fatalf("expected sanitized file name, got %s", result.Outputs[1].Path)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(newTestRecolorer(t, Options{}), t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Variants:   []domain.Variant{{ID: "warm", Adjustment: domain.Adjustment{Hue: 20}}},
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestLocalProcessor_FallbackStillEmits(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "broken.png")
	if err := os.WriteFile(inputPath, []byte("broken"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewLocalProcessor(newTestRecolorer(t, Options{}), filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-broken",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Variants:   []domain.Variant{{ID: "warm", Adjustment: domain.Adjustment{Hue: 20}}},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	out := result.Outputs[0]
	if out.Modified {
		t.Fatal("expected unmodified output")
	}
	written, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(written) != "broken" {
		t.Fatalf("expected original bytes, got %q", written)
	}
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func TestObjectStoreProcessor_AnimatedSource(t *testing.T) {
	store := newMemoryObjectStore()
	source := encodeAnimated(t, 4, 4, []color.NRGBA{red, blue, green}, 80*time.Millisecond)
	store.objects["uploads/job-9/source"] = source

	processor, err := NewObjectStoreProcessor(newTestRecolorer(t, Options{}), store, "")
	if err != nil {
		t.Fatalf("new object store processor: %v", err)
	}
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-9",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-9/source",
		Variants:   []domain.Variant{{ID: "cool", Adjustment: domain.Adjustment{Hue: -60}}},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	out := result.Outputs[0]
	if out.Path != "outputs/job-9/cool.png" {
		t.Fatalf("unexpected object key %s", out.Path)
	}
	if out.Kind != "animated" || out.Frames != 3 || out.ContentType != "image/apng" {
		t.Fatalf("expected 3-frame apng, got %+v", out)
	}
	if store.types[out.Path] != "image/apng" {
		t.Fatalf("expected stored content type image/apng, got %s", store.types[out.Path])
	}
	if !apng.IsAnimated(store.objects[out.Path]) {
		t.Fatal("expected stored object to be animated")
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageWidth(t *testing.T, path string, want int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	if got := img.Bounds().Dx(); got != want {
		t.Fatalf("expected width %d, got %d", want, got)
	}
}
