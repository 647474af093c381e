package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/tint"
)

func (r *Recolorer) recolorAnimated(ctx context.Context, input []byte, adj domain.Adjustment) (Rendition, error) {
	anim, err := r.decodeAnimation(input)
	if err != nil {
		return Rendition{}, stageError(StageDecode, KindAnimated, err)
	}

	mod := tint.NewModulation(adj.Hue, adj.Saturation, adj.Brightness)
	overlay := overlayFor(adj)
	if err := r.recolorFrames(ctx, anim.Frames, mod, overlay); err != nil {
		return Rendition{}, stageError(StageRecolor, KindAnimated, err)
	}

	anim.LoopCount = 0
	var buf bytes.Buffer
	if err := apng.Encode(&buf, anim); err != nil {
		return Rendition{}, stageError(StageEncode, KindAnimated, err)
	}

	return Rendition{
		Data:     buf.Bytes(),
		Kind:     KindAnimated,
		Width:    anim.Width,
		Height:   anim.Height,
		Frames:   len(anim.Frames),
		Modified: true,
	}, nil
}

// decodeAnimation tries the strict decoder first and falls back to rendering
// each frame onto its own surface.
func (r *Recolorer) decodeAnimation(input []byte) (*apng.Animation, error) {
	anim, err := r.decoder.Decode(input)
	if err == nil {
		return anim, nil
	}
	if errors.Is(err, apng.ErrTooLarge) {
		return nil, err
	}
	r.logger.Printf("apng decode failed, rendering frames individually err=%v", err)

	rendered, report, lerr := r.decoder.DecodeLenient(input)
	if lerr != nil {
		return nil, errors.Join(err, lerr)
	}
	if report.Dropped > 0 {
		if r.partial == PartialFramesReject {
			return nil, fmt.Errorf("%w: rendered=%d dropped=%d", ErrPartialFrames, report.Rendered, report.Dropped)
		}
		r.logger.Printf("apng frames dropped rendered=%d dropped=%d", report.Rendered, report.Dropped)
	}
	return rendered, nil
}

// recolorFrames works through frames in fixed-size batches. Frames within a
// batch run concurrently; between batches the context is checked and the
// scheduler gets a chance to run other goroutines.
func (r *Recolorer) recolorFrames(ctx context.Context, frames []apng.Frame, mod tint.Modulation, overlay tint.Overlay) error {
	for start := 0; start < len(frames); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+r.batchSize, len(frames))
		errs := make([]error, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(slot int, img *image.NRGBA) {
				defer wg.Done()
				defer func() {
					if p := recover(); p != nil {
						errs[slot] = fmt.Errorf("%w: frame %d: %v", ErrPanic, start+slot, p)
					}
				}()
				tint.Apply(img, mod, overlay)
			}(i-start, frames[i].Image)
		}
		wg.Wait()
		if err := errors.Join(errs...); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}
