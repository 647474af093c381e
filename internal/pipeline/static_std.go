package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/gift"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/tint"
)

type giftBackend struct{}

func (giftBackend) Recolor(ctx context.Context, input []byte, adj domain.Adjustment) (staticImage, error) {
	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return staticImage{}, stageError(StageDecode, KindStatic, fmt.Errorf("decode source image: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return staticImage{}, stageError(StageRecolor, KindStatic, err)
	}

	mod := tint.NewModulation(adj.Hue, adj.Saturation, adj.Brightness)
	filters := gift.New(gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
		r, g, b := mod.ApplyFloat(float64(r0), float64(g0), float64(b0))
		return float32(r), float32(g), float32(b), a0
	}))
	dst := image.NewNRGBA(filters.Bounds(src.Bounds()))
	filters.Draw(dst, src)

	if overlay := overlayFor(adj); overlay.Active() {
		tint.CompositeAtop(dst, overlay.Solid(dst.Rect))
	}

	var buf bytes.Buffer
	if err := apng.EncodePNG(&buf, dst); err != nil {
		return staticImage{}, stageError(StageEncode, KindStatic, err)
	}
	return staticImage{Data: buf.Bytes(), Width: dst.Rect.Dx(), Height: dst.Rect.Dy()}, nil
}

func (giftBackend) Reencode(input []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := apng.EncodePNG(&buf, src); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
