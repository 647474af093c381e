package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/hueshift/internal/domain"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Variants   []domain.Variant
}

type Output struct {
	VariantID   string `json:"variant_id"`
	Kind        string `json:"kind"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Frames      int    `json:"frames"`
	Modified    bool   `json:"modified"`
	Success     bool   `json:"success"`
}

type Result struct {
	SourceBytes int
	Outputs     []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, variant domain.Variant, out Rendition) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
}

func NewProcessor(fetcher Fetcher, transformer Transformer, emitter Emitter) *Processor {
	return &Processor{fetcher: fetcher, transformer: transformer, emitter: emitter}
}

func NewLocalProcessor(recolorer *Recolorer, outputDir string) (*Processor, error) {
	if recolorer == nil {
		return nil, errors.New("recolorer is required")
	}
	return NewProcessor(LocalFileFetcher{}, recolorer, LocalFileEmitter{Saver: recolorer, OutputDir: outputDir}), nil
}

// Process fetches the source once and emits one output per variant. A variant
// whose recolor fell back to the source still produces an output, marked
// unmodified.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Variants) == 0 {
		return Result{}, errors.New("variants must contain at least one entry")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{SourceBytes: len(sourceBytes), Outputs: make([]Output, 0, len(req.Variants))}
	for _, variant := range req.Variants {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		rendition := p.transformer.Transform(ctx, sourceBytes, variant.Adjustment)
		written, err := p.emitter.Emit(ctx, req, variant, rendition)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage variant=%s: %w", variant.ID, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func newOutput(variant domain.Variant, location string, out Rendition) Output {
	return Output{
		VariantID:   variant.ID,
		Kind:        out.Kind.String(),
		ContentType: out.Kind.ContentType(),
		Path:        location,
		Bytes:       len(out.Data),
		Width:       out.Width,
		Height:      out.Height,
		Frames:      out.Frames,
		Modified:    out.Modified,
		Success:     true,
	}
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type fileSaver interface {
	SaveFile(path string, data []byte) error
}

type LocalFileEmitter struct {
	Saver     fileSaver
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, variant domain.Variant, out Rendition) (Output, error) {
	if e.Saver == nil {
		return Output{}, errors.New("file saver is required")
	}
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(variant.ID) == "" {
		return Output{}, errors.New("variant id is required")
	}

	fullPath := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID), sanitizePathToken(variant.ID)+".png")
	if err := e.Saver.SaveFile(fullPath, out.Data); err != nil {
		return Output{}, err
	}
	return newOutput(variant, fullPath, out), nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
