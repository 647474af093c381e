package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/hueshift/internal/apng"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func writePNG(t *testing.T, dir, name string, c color.NRGBA) string {
	t.Helper()
	var buf bytes.Buffer
	if err := apng.EncodePNG(&buf, solid(4, 3, c)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

func writeAPNG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	err := apng.Encode(&buf, &apng.Animation{
		Width:  2,
		Height: 2,
		Frames: []apng.Frame{
			{Image: solid(2, 2, color.NRGBA{R: 255, A: 255}), Delay: 100 * time.Millisecond},
			{Image: solid(2, 2, color.NRGBA{B: 255, A: 255}), Delay: 100 * time.Millisecond},
		},
	})
	if err != nil {
		t.Fatalf("encode apng: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write apng: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRecolorWritesEditedFile(t *testing.T) {
	dir := t.TempDir()
	input := writePNG(t, dir, "red.png", color.NRGBA{R: 255, A: 255})

	code, stdout, stderr := run(t, "recolor", "--hue=30", input)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "red_edited.png") {
		t.Fatalf("expected output path in stdout, got %q", stdout)
	}

	f, err := os.Open(filepath.Join(dir, "red_edited.png"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	r, g, b, _ := img.At(2, 1).RGBA()
	if r>>8 != 255 || g>>8 < 127 || g>>8 > 129 || b>>8 != 0 {
		t.Fatalf("expected orange, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestBatchReportsJSONAndKeepsGoing(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	a := writePNG(t, dir, "a.png", color.NRGBA{G: 255, A: 255})
	b := writeAPNG(t, dir, "b.png")
	missing := filepath.Join(dir, "missing.png")

	code, stdout, _ := run(t, "--json", "batch", "--out-dir", outDir, "--overlay=#0000ff", "--overlay-opacity=50", a, b, missing)
	if code != 1 {
		t.Fatalf("expected exit 1 when one file fails, got %d", code)
	}

	var results []fileResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode json %q: %v", stdout, err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Modified || results[0].Kind != "static" {
		t.Fatalf("unexpected static result: %+v", results[0])
	}
	if !results[1].Modified || results[1].Kind != "animated" || results[1].Frames != 2 {
		t.Fatalf("unexpected animated result: %+v", results[1])
	}
	if results[2].Output != "" || results[2].Error == "" {
		t.Fatalf("expected failure for missing file, got %+v", results[2])
	}

	for _, name := range []string{"a_edited.png", "b_edited.png"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	out, err := os.ReadFile(filepath.Join(outDir, "b_edited.png"))
	if err != nil {
		t.Fatalf("read animated output: %v", err)
	}
	if !apng.IsAnimated(out) {
		t.Fatal("expected animated output to stay animated")
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	static := writePNG(t, dir, "s.png", color.NRGBA{A: 255})
	animated := writeAPNG(t, dir, "a.png")

	code, stdout, stderr := run(t, "--json", "detect", static, animated)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var results []detectResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if results[0].Kind != "static" || results[0].Width != 4 || results[0].Frames != 1 {
		t.Fatalf("unexpected static detection: %+v", results[0])
	}
	if results[1].Kind != "animated" || results[1].Frames != 2 || results[1].StrictDecodeErr != "" {
		t.Fatalf("unexpected animated detection: %+v", results[1])
	}
}

func TestUsageErrors(t *testing.T) {
	if code, _, _ := run(t, "recolor"); code == 0 {
		t.Fatal("expected non-zero exit for missing argument")
	}
	if code, _, _ := run(t, "--partial-frames=maybe", "detect", "x"); code == 0 {
		t.Fatal("expected non-zero exit for bad enum")
	}
	if code, stdout, _ := run(t, "--help"); code != 0 || !strings.Contains(stdout, "hueshift") {
		t.Fatalf("expected help on stdout with exit 0, got code=%d", code)
	}
}

func TestBatchDisambiguatesSharedBaseNames(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	for _, sub := range []string{"x", "y"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	first := writePNG(t, filepath.Join(dir, "x"), "s.png", color.NRGBA{R: 255, A: 255})
	second := writePNG(t, filepath.Join(dir, "y"), "s.png", color.NRGBA{B: 255, A: 255})

	code, stdout, stderr := run(t, "--json", "batch", "--out-dir", outDir, "--hue=30", first, second)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var results []fileResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode json %q: %v", stdout, err)
	}
	if len(results) != 2 || results[0].Output == results[1].Output {
		t.Fatalf("expected two distinct outputs, got %+v", results)
	}
	if want := filepath.Join(outDir, "s_edited-2.png"); results[1].Output != want {
		t.Fatalf("expected second output %s, got %s", want, results[1].Output)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read out dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files in out dir, got %d", len(entries))
	}
}

func TestBatchOutputsSuffixCollisions(t *testing.T) {
	got := batchOutputs("out", []string{"a/s.png", "b/s.png", "c/S.png", "t.png"})
	want := []string{"s_edited.png", "s_edited-2.png", "S_edited-3.png", "t_edited.png"}
	for i, name := range want {
		if got[i] != filepath.Join("out", name) {
			t.Fatalf("input %d: expected %s, got %s", i, filepath.Join("out", name), got[i])
		}
	}
}

func TestDetectHonorsPixelBudget(t *testing.T) {
	animated := writeAPNG(t, t.TempDir(), "a.png")

	code, stdout, stderr := run(t, "--json", "--max-pixels=4", "detect", animated)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var results []detectResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !strings.Contains(results[0].StrictDecodeErr, "pixel budget") || !strings.Contains(results[0].LenientDecodeErr, "pixel budget") {
		t.Fatalf("expected budget errors, got %+v", results[0])
	}
}
