package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/tint"
)

// staticImage is an encoded single-image PNG.
type staticImage struct {
	Data   []byte
	Width  int
	Height int
}

// staticBackend recolors single images. Every output is an 8-bit RGBA PNG at
// zlib level 6 with adaptive filtering.
type staticBackend interface {
	Recolor(ctx context.Context, input []byte, adj domain.Adjustment) (staticImage, error)
	Reencode(input []byte) ([]byte, error)
}

func (r *Recolorer) recolorStatic(ctx context.Context, input []byte, adj domain.Adjustment) (Rendition, error) {
	if err := ctx.Err(); err != nil {
		return Rendition{}, stageError(StageDecode, KindStatic, err)
	}
	if apng.HasFrameControl(input) {
		return Rendition{}, stageError(StageDecode, KindStatic, ErrOrphanFrameControl)
	}
	if err := r.checkStaticSize(input); err != nil {
		return Rendition{}, stageError(StageDecode, KindStatic, err)
	}

	img, err := r.static.Recolor(ctx, input, adj)
	if err != nil {
		return Rendition{}, err
	}
	return Rendition{
		Data:     img.Data,
		Kind:     KindStatic,
		Width:    img.Width,
		Height:   img.Height,
		Frames:   1,
		Modified: true,
	}, nil
}

// checkStaticSize rejects a single image whose header declares more pixels
// than the decode budget. Unreadable headers are left to the backend.
func (r *Recolorer) checkStaticSize(input []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil
	}
	limit := r.decoder.MaxTotalPixels
	if limit <= 0 {
		limit = apng.DefaultMaxTotalPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > limit {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", apng.ErrTooLarge, cfg.Width, cfg.Height, limit)
	}
	return nil
}

// overlayFor builds the overlay of adj, inactive unless adj carries one.
func overlayFor(adj domain.Adjustment) tint.Overlay {
	if !adj.HasOverlay() {
		return tint.Overlay{}
	}
	return tint.NewOverlay(adj.OverlayColor, adj.OverlayOpacity)
}
