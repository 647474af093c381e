package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
)

const DefaultFrameBatchSize = 4

type PartialFramesPolicy string

const (
	PartialFramesAccept PartialFramesPolicy = "accept"
	PartialFramesReject PartialFramesPolicy = "reject"
)

type Options struct {
	FrameBatchSize  int
	PartialFrames   PartialFramesPolicy
	// MaxDecodePixels caps decoded pixels per input, frames x canvas for
	// animations. Zero means apng.DefaultMaxTotalPixels.
	MaxDecodePixels int64
	Logger          *log.Logger
}

// Recolorer applies an Adjustment to PNG and APNG payloads. It never returns
// a failure to the caller: anything that goes wrong yields the input bytes.
type Recolorer struct {
	static    staticBackend
	decoder   apng.Decoder
	batchSize int
	partial   PartialFramesPolicy
	logger    *log.Logger
	tracer    trace.Tracer
}

func NewRecolorer(opts Options) (*Recolorer, error) {
	static, err := newStaticBackend()
	if err != nil {
		return nil, fmt.Errorf("build static backend: %w", err)
	}

	batch := opts.FrameBatchSize
	if batch <= 0 {
		batch = DefaultFrameBatchSize
	}
	partial := opts.PartialFrames
	switch partial {
	case PartialFramesAccept, PartialFramesReject:
	case "":
		partial = PartialFramesAccept
	default:
		return nil, fmt.Errorf("unsupported partial frames policy %q", opts.PartialFrames)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Recolorer{
		static:    static,
		decoder:   apng.Decoder{MaxTotalPixels: opts.MaxDecodePixels},
		batchSize: batch,
		partial:   partial,
		logger:    logger,
		tracer:    otel.Tracer("github.com/dunamismax/hueshift/internal/pipeline"),
	}, nil
}

// Recolor classifies input and runs the matching path. Out-of-range numeric
// parameters are clamped.
func (r *Recolorer) Recolor(ctx context.Context, input []byte, adj domain.Adjustment) (out Rendition) {
	kind := Classify(input)
	ctx, span := r.tracer.Start(ctx, "pipeline.recolor")
	defer span.End()
	span.SetAttributes(
		attribute.String("image.kind", kind.String()),
		attribute.Int("image.bytes", len(input)),
	)

	defer func() {
		if p := recover(); p != nil {
			out = r.fallback(span, input, kind, stageError(StageRecolor, kind, fmt.Errorf("%w: %v", ErrPanic, p)))
		}
	}()

	adj = adj.Clamped()
	var err error
	if kind == KindAnimated {
		out, err = r.recolorAnimated(ctx, input, adj)
	} else {
		out, err = r.recolorStatic(ctx, input, adj)
	}
	if err != nil {
		return r.fallback(span, input, kind, err)
	}

	span.SetAttributes(
		attribute.Int("image.frames", out.Frames),
		attribute.Bool("image.modified", true),
	)
	span.SetStatus(codes.Ok, "recolored")
	return out
}

// Transform satisfies Transformer.
func (r *Recolorer) Transform(ctx context.Context, input []byte, adj domain.Adjustment) Rendition {
	return r.Recolor(ctx, input, adj)
}

// RecolorBase64 is Recolor for standard base64 payloads. A payload that does
// not decode, or any processing failure, returns payload unchanged.
func (r *Recolorer) RecolorBase64(ctx context.Context, payload string, adj domain.Adjustment) string {
	input, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		r.logger.Printf("recolor base64 payload rejected err=%v", err)
		return payload
	}
	out := r.Recolor(ctx, input, adj)
	if !out.Modified {
		return payload
	}
	return base64.StdEncoding.EncodeToString(out.Data)
}

func (r *Recolorer) fallback(span trace.Span, input []byte, kind Kind, err error) Rendition {
	r.logger.Printf("recolor fell back to original kind=%s bytes=%d err=%v", kind, len(input), err)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("image.modified", false))
	span.SetStatus(codes.Error, "returned original bytes")
	return Rendition{Data: input, Kind: kind, Err: err}
}
